package audit

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FieldChange is one detected difference between a record's prior and
// submitted value for a single field. OldValue/NewValue are the stored
// serializations (nil for absent values); the display strings are
// presentation only and never participate in comparison or hashing.
type FieldChange struct {
	Field      string
	OldValue   *string
	NewValue   *string
	OldDisplay string
	NewDisplay string
}

// BlankDisplay is the marker shown for absent values in human-facing change
// summaries.
const BlankDisplay = "(blank)"

var slashDatePattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)

// DetectChanges compares prior field values against a submitted field set and
// returns the fields whose normalized values differ. Only fields present in
// newValues are considered — fields the caller never submitted are not
// treated as deletions. Excluded fields (surrogate keys, version counters,
// form-technical fields) are skipped entirely.
//
// DetectChanges is a pure function of its inputs: no I/O, no hidden state.
func DetectChanges(oldValues, newValues map[string]any, excluded map[string]struct{}) []FieldChange {
	fields := make([]string, 0, len(newValues))
	for field := range newValues {
		if _, skip := excluded[field]; skip {
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var changes []FieldChange
	for _, field := range fields {
		oldVal := oldValues[field]
		newVal := newValues[field]
		if Normalize(oldVal) == Normalize(newVal) {
			continue
		}
		changes = append(changes, FieldChange{
			Field:      field,
			OldValue:   Serialize(oldVal),
			NewValue:   Serialize(newVal),
			OldDisplay: Display(oldVal),
			NewDisplay: Display(newVal),
		})
	}
	return changes
}

// CreationChanges treats every submitted non-excluded field as a change from
// empty. A creation event always has content, even when a prior snapshot
// happens to exist.
func CreationChanges(newValues map[string]any, excluded map[string]struct{}) []FieldChange {
	fields := make([]string, 0, len(newValues))
	for field := range newValues {
		if _, skip := excluded[field]; skip {
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	changes := make([]FieldChange, 0, len(fields))
	for _, field := range fields {
		newVal := newValues[field]
		changes = append(changes, FieldChange{
			Field:      field,
			OldValue:   nil,
			NewValue:   Serialize(newVal),
			OldDisplay: BlankDisplay,
			NewDisplay: Display(newVal),
		})
	}
	return changes
}

// Normalize maps semantically-equal values to one comparable form: true
// absence (nil, empty string, empty list) becomes "", booleans become
// "1"/"0", dates become "YYYY-MM-DD" whichever way they arrive, and
// everything else becomes its lowercased trimmed string. The literal string
// "None" is data, not absence, and normalizes to "none" like any other text.
func Normalize(v any) string {
	if isNilValue(v) {
		return ""
	}

	switch val := v.(type) {
	case string:
		return normalizeString(val)
	case bool:
		return boolDigit(val)
	case time.Time:
		return val.Format("2006-01-02")
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			if rv.Len() == 0 {
				return ""
			}
			parts := make([]string, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				parts[i] = Normalize(rv.Index(i).Interface())
			}
			return strings.Join(parts, ",")
		}
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	}
}

func normalizeString(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	switch strings.ToLower(trimmed) {
	case "yes", "true":
		return "1"
	case "no", "false":
		return "0"
	}
	if m := slashDatePattern.FindStringSubmatch(trimmed); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	}
	return strings.ToLower(trimmed)
}

// Serialize produces the stored string form of a value, or nil for absence.
// Dates serialize as ISO-8601, booleans as "true"/"false", everything else
// via its canonical string form.
func Serialize(v any) *string {
	if isNilValue(v) {
		return nil
	}

	var s string
	switch val := v.(type) {
	case string:
		s = val
	case bool:
		s = strconv.FormatBool(val)
	case time.Time:
		s = val.UTC().Format(time.RFC3339)
	default:
		s = fmt.Sprint(v)
	}
	return &s
}

// Display renders a value for human-facing change summaries: dates as
// DD/MM/YYYY, booleans as Yes/No, absence as the blank marker. Display output
// never feeds comparison or hashing.
func Display(v any) string {
	if isNilValue(v) {
		return BlankDisplay
	}

	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return BlankDisplay
		}
		if t, err := time.Parse("2006-01-02", trimmed); err == nil {
			return t.Format("02/01/2006")
		}
		return trimmed
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case time.Time:
		return val.Format("02/01/2006")
	default:
		return fmt.Sprint(v)
	}
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return true
		}
		if rv.Kind() == reflect.Ptr {
			return isNilValue(rv.Elem().Interface())
		}
	}
	return false
}
