package study

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// EntityType is the routing name for the study registry. It lives in the
// management database.
const EntityType = "STUDY"

// Study maps to the study table in the management database. Each study owns
// one isolated clinical database; StudyID doubles as the tenant id used to
// resolve it.
type Study struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	StudyID     string     `db:"study_id" json:"study_id"`
	Name        string     `db:"name" json:"name"`
	Sponsor     *string    `db:"sponsor" json:"sponsor,omitempty"`
	Protocol    *string    `db:"protocol" json:"protocol,omitempty"`
	DatabaseDSN *string    `db:"database_dsn" json:"-"`
	Active      bool       `db:"active" json:"active"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

var studyIDPattern = regexp.MustCompile(`^[a-z0-9_]{3,63}$`)

// ValidStudyID reports whether an id is usable as a tenant id: lowercase
// alphanumerics and underscores, bounded length, safe to embed in a database
// name.
func ValidStudyID(id string) bool {
	return studyIDPattern.MatchString(id)
}
