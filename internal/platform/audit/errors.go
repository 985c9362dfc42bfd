package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrImmutabilityViolation is returned for any attempted update or delete of
// a persisted audit event or detail outside the single MarkUnverified path.
// It is a programming error: callers must not catch and ignore it.
var ErrImmutabilityViolation = errors.New("audit records are immutable")

// ErrEventNotFound is returned by ledger lookups for unknown event ids.
var ErrEventNotFound = errors.New("audit event not found")

// ErrNoManifest means an entity type was audited without registering a field
// manifest. Like routing gaps, this is fatal configuration, caught by
// startup validation.
var ErrNoManifest = errors.New("no field manifest registered for entity type")

// PersistenceError wraps a failed ledger append. The coordinator converts it
// into a rollback of the paired domain mutation: an audited mutation without
// its audit record never commits.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("audit persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IntegrityMismatch reports a stored checksum that no longer matches the
// event's recomputed checksum. It identifies the event without reproducing
// field payloads, so it is safe to forward to alert channels.
type IntegrityMismatch struct {
	EventID    uuid.UUID
	TenantID   string
	ActorID    string
	Action     Action
	OccurredAt time.Time
}

func (e *IntegrityMismatch) Error() string {
	return fmt.Sprintf("integrity mismatch on audit event %s (study=%s actor=%s action=%s occurred=%s)",
		e.EventID, e.TenantID, e.ActorID, e.Action, e.OccurredAt.UTC().Format(time.RFC3339))
}
