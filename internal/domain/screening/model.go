package screening

import (
	"time"

	"github.com/google/uuid"

	"github.com/edc/edc/internal/platform/audit"
)

// EntityType is the routing and audit name for screening cases. They live in
// each study's clinical database.
const EntityType = "SCREENING_CASE"

// Manifest declares the auditable field surface of a screening case. The
// change detector only ever sees these names; the surrogate key, version
// counter and timestamps are excluded so form round-trips never produce
// phantom diffs.
var Manifest = audit.Manifest{
	EntityType: EntityType,
	Excluded:   []string{"ID", "VERSION_ID", "CREATED_AT", "UPDATED_AT"},
	LogViews:   true,
}

// ScreeningCase maps to the screening_case table in a study database.
// CaseNumber is the business identifier used in audit subject lookups; the
// uuid stays internal.
type ScreeningCase struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	CaseNumber    string     `db:"case_number" json:"case_number"`
	Status        string     `db:"status" json:"status"`
	ConsentGiven  *bool      `db:"consent_given" json:"consent_given,omitempty"`
	DateOfBirth   *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	ScreeningDate *time.Time `db:"screening_date" json:"screening_date,omitempty"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`
	VersionID     int        `db:"version_id" json:"version_id"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// FieldValues returns the case's auditable fields as the value map the
// change detector consumes. Keys match the manifest's field names.
func (s *ScreeningCase) FieldValues() map[string]any {
	values := map[string]any{
		"CASE_NUMBER": s.CaseNumber,
		"STATUS":      s.Status,
	}
	if s.ConsentGiven != nil {
		values["CONSENT_GIVEN"] = *s.ConsentGiven
	} else {
		values["CONSENT_GIVEN"] = nil
	}
	if s.DateOfBirth != nil {
		values["DATE_OF_BIRTH"] = *s.DateOfBirth
	} else {
		values["DATE_OF_BIRTH"] = nil
	}
	if s.ScreeningDate != nil {
		values["SCREENING_DATE"] = *s.ScreeningDate
	} else {
		values["SCREENING_DATE"] = nil
	}
	if s.Notes != nil {
		values["NOTES"] = *s.Notes
	} else {
		values["NOTES"] = nil
	}
	return values
}
