package audit

import (
	"testing"
	"time"
)

func TestNormalize_AbsenceForms(t *testing.T) {
	cases := []struct {
		name string
		in   any
	}{
		{"nil", nil},
		{"empty string", ""},
		{"whitespace", "   "},
		{"nil string pointer", (*string)(nil)},
		{"empty slice", []string{}},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != "" {
			t.Errorf("%s: Normalize(%v) = %q, want empty", tc.name, tc.in, got)
		}
	}
}

func TestNormalize_Booleans(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{true, "1"},
		{false, "0"},
		{"Yes", "1"},
		{"yes", "1"},
		{"TRUE", "1"},
		{"No", "0"},
		{"false", "0"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_Dates(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"1/2/2020", "2020-02-01"},
		{"01/02/2020", "2020-02-01"},
		{"2020-02-01", "2020-02-01"},
		{time.Date(2020, 2, 1, 13, 45, 0, 0, time.UTC), "2020-02-01"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_NoneLiteralIsData(t *testing.T) {
	// "None" is a value a user typed, not an absence marker.
	if got := Normalize("None"); got != "none" {
		t.Errorf("Normalize(\"None\") = %q, want %q", got, "none")
	}
	if Normalize("None") == Normalize(nil) {
		t.Error("\"None\" must not compare equal to absence")
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"Yes", "1/2/2020", "  Active  ", "None", ""}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestDetectChanges_FormatOnlyResubmissionIsNoop(t *testing.T) {
	old := map[string]any{
		"STATUS": "active",
		"NOTES":  nil,
	}
	submitted := map[string]any{
		"STATUS": "Active",
		"NOTES":  "",
	}

	changes := DetectChanges(old, submitted, nil)
	if len(changes) != 0 {
		t.Fatalf("expected no changes, got %d: %+v", len(changes), changes)
	}
}

func TestDetectChanges_DateFormatsCompareEqual(t *testing.T) {
	old := map[string]any{"DATE_OF_BIRTH": "2020-02-01"}
	submitted := map[string]any{"DATE_OF_BIRTH": "01/02/2020"}

	if changes := DetectChanges(old, submitted, nil); len(changes) != 0 {
		t.Fatalf("expected no changes for equivalent dates, got %+v", changes)
	}
}

func TestDetectChanges_RealChangeDetected(t *testing.T) {
	old := map[string]any{"STATUS": "screening", "NOTES": "initial"}
	submitted := map[string]any{"STATUS": "enrolled", "NOTES": "initial"}

	changes := DetectChanges(old, submitted, nil)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	ch := changes[0]
	if ch.Field != "STATUS" {
		t.Errorf("field = %q, want STATUS", ch.Field)
	}
	if ch.OldValue == nil || *ch.OldValue != "screening" {
		t.Errorf("old value = %v, want screening", ch.OldValue)
	}
	if ch.NewValue == nil || *ch.NewValue != "enrolled" {
		t.Errorf("new value = %v, want enrolled", ch.NewValue)
	}
}

func TestDetectChanges_OnlySubmittedFieldsConsidered(t *testing.T) {
	old := map[string]any{"STATUS": "screening", "NOTES": "keep me"}
	submitted := map[string]any{"STATUS": "enrolled"}

	changes := DetectChanges(old, submitted, nil)
	for _, ch := range changes {
		if ch.Field == "NOTES" {
			t.Error("unsubmitted field NOTES must not be treated as a deletion")
		}
	}
	if len(changes) != 1 {
		t.Errorf("expected 1 change, got %d", len(changes))
	}
}

func TestDetectChanges_ExcludedFieldsSkipped(t *testing.T) {
	old := map[string]any{"STATUS": "screening", "VERSION_ID": 1}
	submitted := map[string]any{"STATUS": "screening", "VERSION_ID": 2}
	excluded := map[string]struct{}{"VERSION_ID": {}}

	if changes := DetectChanges(old, submitted, excluded); len(changes) != 0 {
		t.Fatalf("excluded field produced changes: %+v", changes)
	}
}

func TestDetectChanges_ValueCleared(t *testing.T) {
	old := map[string]any{"NOTES": "something"}
	submitted := map[string]any{"NOTES": ""}

	changes := DetectChanges(old, submitted, nil)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	if changes[0].NewValue == nil || *changes[0].NewValue != "" {
		t.Errorf("cleared value should serialize as empty string, got %v", changes[0].NewValue)
	}
	if changes[0].NewDisplay != BlankDisplay {
		t.Errorf("cleared display = %q, want %q", changes[0].NewDisplay, BlankDisplay)
	}
}

func TestDetectChanges_SortedFieldOrder(t *testing.T) {
	old := map[string]any{}
	submitted := map[string]any{"ZETA": "1", "ALPHA": "2", "MIKE": "3"}

	changes := DetectChanges(old, submitted, nil)
	want := []string{"ALPHA", "MIKE", "ZETA"}
	if len(changes) != len(want) {
		t.Fatalf("expected %d changes, got %d", len(want), len(changes))
	}
	for i, ch := range changes {
		if ch.Field != want[i] {
			t.Errorf("changes[%d].Field = %q, want %q", i, ch.Field, want[i])
		}
	}
}

func TestCreationChanges_AllFieldsFromEmpty(t *testing.T) {
	values := map[string]any{
		"CASE_NUMBER": "SCR-001",
		"STATUS":      "screening",
		"NOTES":       nil,
	}

	changes := CreationChanges(values, nil)
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	for _, ch := range changes {
		if ch.OldValue != nil {
			t.Errorf("%s: creation change has old value %v", ch.Field, ch.OldValue)
		}
		if ch.OldDisplay != BlankDisplay {
			t.Errorf("%s: old display = %q, want %q", ch.Field, ch.OldDisplay, BlankDisplay)
		}
	}
}

func TestDisplay_Rendering(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, BlankDisplay},
		{"", BlankDisplay},
		{true, "Yes"},
		{false, "No"},
		{"2020-02-01", "01/02/2020"},
		{time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), "01/02/2020"},
		{"enrolled", "enrolled"},
	}
	for _, tc := range cases {
		if got := Display(tc.in); got != tc.want {
			t.Errorf("Display(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSerialize_Forms(t *testing.T) {
	if got := Serialize(nil); got != nil {
		t.Errorf("Serialize(nil) = %v, want nil", got)
	}
	if got := Serialize(true); got == nil || *got != "true" {
		t.Errorf("Serialize(true) = %v, want true", got)
	}
	ts := time.Date(2020, 2, 1, 10, 30, 0, 0, time.UTC)
	if got := Serialize(ts); got == nil || *got != "2020-02-01T10:30:00Z" {
		t.Errorf("Serialize(time) = %v, want 2020-02-01T10:30:00Z", got)
	}
}
