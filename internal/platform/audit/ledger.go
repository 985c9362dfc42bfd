package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilters narrows ledger listings. Zero values mean "no filter".
type ListFilters struct {
	EntityType string
	SubjectID  string
	ActorID    string
	Action     Action
	Since      time.Time
	Limit      int
	Offset     int
}

// Ledger is the append-only store contract for one study's audit trail.
// Append is the only way content enters the ledger and MarkUnverified is the
// only permitted mutation afterwards. Update and Delete exist so that a bug
// elsewhere in the codebase reaching for them fails loudly with
// ErrImmutabilityViolation instead of silently corrupting history.
type Ledger interface {
	// Append persists a sealed event and its detail rows atomically. Either
	// everything is stored or nothing is; a partial audit trail is never
	// left behind.
	Append(ctx context.Context, event *Event, details []Detail) (uuid.UUID, error)

	Get(ctx context.Context, id uuid.UUID) (*Event, error)
	Details(ctx context.Context, eventID uuid.UUID) ([]Detail, error)
	List(ctx context.Context, f ListFilters) ([]*Event, int, error)

	// MarkUnverified flips the verified flag to false. It is reserved for
	// the verification job and is the single allowed post-creation change.
	MarkUnverified(ctx context.Context, eventID uuid.UUID) error

	// Update always fails with ErrImmutabilityViolation.
	Update(ctx context.Context, event *Event) error
	// Delete always fails with ErrImmutabilityViolation.
	Delete(ctx context.Context, id uuid.UUID) error
}
