package auditevent

import (
	"strings"
	"time"

	"github.com/edc/edc/internal/platform/audit"
)

// EventResponse is the read-model of one trail entry. The checksum is
// exposed so external tooling can re-verify exports, but the signing key
// never leaves the server.
type EventResponse struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	ActorName  string `json:"actor_name"`
	OccurredAt string `json:"occurred_at"`
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	SubjectID  string `json:"subject_id"`
	StudyID    string `json:"study_id"`
	Reason     string `json:"reason"`
	SourceIP   string `json:"source_ip,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Checksum   string `json:"checksum"`
	Verified   bool   `json:"verified"`
}

// DetailResponse is one field-level change. Old/new carry the stored values
// verbatim (null for absence); the display forms render dates day-first,
// booleans as Yes/No and absence as the blank marker for review screens.
type DetailResponse struct {
	FieldName   string  `json:"field_name"`
	OldValue    *string `json:"old_value"`
	NewValue    *string `json:"new_value"`
	OldDisplay  string  `json:"old_display"`
	NewDisplay  string  `json:"new_display"`
	FieldReason string  `json:"field_reason,omitempty"`
}

func toEventResponse(e *audit.Event) EventResponse {
	return EventResponse{
		ID:         e.ID.String(),
		ActorID:    e.ActorID,
		ActorName:  e.ActorName,
		OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339),
		Action:     string(e.Action),
		EntityType: e.EntityType,
		SubjectID:  e.SubjectID,
		StudyID:    e.TenantID,
		Reason:     e.Reason,
		SourceIP:   e.SourceIP,
		SessionID:  e.SessionID,
		Checksum:   e.Checksum,
		Verified:   e.Verified,
	}
}

func toDetailResponse(d audit.Detail) DetailResponse {
	return DetailResponse{
		FieldName:   d.FieldName,
		OldValue:    d.OldValue,
		NewValue:    d.NewValue,
		OldDisplay:  displayValue(d.OldValue),
		NewDisplay:  displayValue(d.NewValue),
		FieldReason: d.FieldReason,
	}
}

// displayValue renders a stored detail value for humans. Stored booleans are
// the strings "true"/"false", so they are mapped before the generic
// renderer sees them.
func displayValue(v *string) string {
	if v == nil {
		return audit.BlankDisplay
	}
	trimmed := strings.TrimSpace(*v)
	switch trimmed {
	case "true":
		return "Yes"
	case "false":
		return "No"
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t.Format("02/01/2006")
	}
	return audit.Display(trimmed)
}
