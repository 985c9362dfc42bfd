// Package audit implements the tamper-evident audit trail: field-level
// change detection, keyed integrity checksums, the append-only per-study
// ledger, and the coordinator that binds a domain mutation and its audit
// record into one transaction.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action classifies what an audit event records.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionView   Action = "VIEW"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionView:
		return true
	}
	return false
}

// Event is one sealed, immutable record of a mutation (or audited view) in a
// study database. Every field except Verified is write-once: the row is
// inserted fully formed and is never updated or deleted afterwards.
type Event struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ActorID    string    `db:"actor_id" json:"actor_id"`
	ActorName  string    `db:"actor_name" json:"actor_name"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
	Action     Action    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	SubjectID  string    `db:"subject_id" json:"subject_id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	Reason     string    `db:"reason" json:"reason"`
	SourceIP   string    `db:"source_ip" json:"source_ip,omitempty"`
	SessionID  string    `db:"session_id" json:"session_id,omitempty"`
	Checksum   string    `db:"checksum" json:"checksum"`
	Verified   bool      `db:"verified" json:"verified"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Detail is one field-level before/after pair belonging to an Event. Details
// are inserted in the same transaction as their event and share its
// immutability.
type Detail struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EventID     uuid.UUID `db:"event_id" json:"event_id"`
	FieldName   string    `db:"field_name" json:"field_name"`
	OldValue    *string   `db:"old_value" json:"old_value"`
	NewValue    *string   `db:"new_value" json:"new_value"`
	FieldReason string    `db:"field_reason" json:"field_reason,omitempty"`
}
