package audit

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func sealedEvent() (*Event, []Detail) {
	oldStatus, newStatus := "screening", "enrolled"
	event := &Event{
		ActorID:    "user-7",
		ActorName:  "Dana Investigator",
		OccurredAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Action:     ActionUpdate,
		EntityType: "SCREENING_CASE",
		SubjectID:  "SCR-042",
		TenantID:   "trial_alpha",
		Reason:     "data correction after source review",
	}
	details := []Detail{
		{FieldName: "STATUS", OldValue: &oldStatus, NewValue: &newStatus},
	}
	return event, details
}

func TestNewSealer_RejectsBadKeySizes(t *testing.T) {
	if _, err := NewSealer([]byte("short")); err == nil {
		t.Error("expected error for short current key")
	}
	if _, err := NewSealer(testKey(1), []byte("short")); err == nil {
		t.Error("expected error for short previous key")
	}
	if _, err := NewSealer(testKey(1), testKey(2)); err != nil {
		t.Errorf("unexpected error for valid keys: %v", err)
	}
}

func TestSeal_Deterministic(t *testing.T) {
	sealer, err := NewSealer(testKey(1))
	if err != nil {
		t.Fatal(err)
	}
	event, details := sealedEvent()

	first, err := sealer.Seal(event, details)
	if err != nil {
		t.Fatal(err)
	}
	second, err := sealer.Seal(event, details)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("checksums differ across calls: %s vs %s", first, second)
	}
	if len(first) != ChecksumLength {
		t.Errorf("checksum length = %d, want %d", len(first), ChecksumLength)
	}
	if first != strings.ToLower(first) {
		t.Error("checksum must be lowercase hex")
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	sealer, _ := NewSealer(testKey(1))
	event, details := sealedEvent()

	checksum, err := sealer.Seal(event, details)
	if err != nil {
		t.Fatal(err)
	}
	event.Checksum = checksum

	ok, err := sealer.Verify(event, details)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("freshly sealed event failed verification")
	}
}

func TestVerify_DetectsTamperingPerField(t *testing.T) {
	sealer, _ := NewSealer(testKey(1))

	tamper := []struct {
		name  string
		apply func(e *Event, d []Detail)
	}{
		{"actor id", func(e *Event, d []Detail) { e.ActorID = "someone-else" }},
		{"actor name", func(e *Event, d []Detail) { e.ActorName = "Mallory" }},
		{"occurred at", func(e *Event, d []Detail) { e.OccurredAt = e.OccurredAt.Add(time.Minute) }},
		{"action", func(e *Event, d []Detail) { e.Action = ActionCreate }},
		{"entity type", func(e *Event, d []Detail) { e.EntityType = "OTHER" }},
		{"subject id", func(e *Event, d []Detail) { e.SubjectID = "SCR-999" }},
		{"reason", func(e *Event, d []Detail) { e.Reason = "rewritten" }},
		{"detail new value", func(e *Event, d []Detail) { v := "withdrawn"; d[0].NewValue = &v }},
		{"detail old value", func(e *Event, d []Detail) { d[0].OldValue = nil }},
		{"detail field name", func(e *Event, d []Detail) { d[0].FieldName = "NOTES" }},
	}

	for _, tc := range tamper {
		event, details := sealedEvent()
		checksum, err := sealer.Seal(event, details)
		if err != nil {
			t.Fatal(err)
		}
		event.Checksum = checksum

		tc.apply(event, details)

		ok, err := sealer.Verify(event, details)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if ok {
			t.Errorf("%s: tampered event still verifies", tc.name)
		}
	}
}

func TestVerify_AcceptsPreviousKeyAfterRotation(t *testing.T) {
	oldSealer, _ := NewSealer(testKey(1))
	event, details := sealedEvent()

	checksum, err := oldSealer.Seal(event, details)
	if err != nil {
		t.Fatal(err)
	}
	event.Checksum = checksum

	rotated, _ := NewSealer(testKey(2), testKey(1))
	ok, err := rotated.Verify(event, details)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("event sealed under previous key failed verification after rotation")
	}

	withoutOldKey, _ := NewSealer(testKey(2))
	ok, err = withoutOldKey.Verify(event, details)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("event verified without any matching key")
	}
}

func TestSeal_NewKeySealsDifferently(t *testing.T) {
	event, details := sealedEvent()

	a, _ := NewSealer(testKey(1))
	b, _ := NewSealer(testKey(2))

	csA, _ := a.Seal(event, details)
	csB, _ := b.Seal(event, details)
	if csA == csB {
		t.Error("different keys produced identical checksums")
	}
}

func TestSeal_IgnoresUnsealedColumns(t *testing.T) {
	sealer, _ := NewSealer(testKey(1))
	event, details := sealedEvent()

	checksum, err := sealer.Seal(event, details)
	if err != nil {
		t.Fatal(err)
	}

	// Storage metadata sits outside the sealed content.
	event.Verified = false
	event.CreatedAt = time.Now()
	event.SourceIP = "10.0.0.9"
	event.SessionID = "other-session"

	again, err := sealer.Seal(event, details)
	if err != nil {
		t.Fatal(err)
	}
	if checksum != again {
		t.Error("checksum changed when only unsealed columns changed")
	}
}
