package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/platform/db"
)

// Mutation describes one audited change to a clinical record. The
// coordinator knows nothing about the record's shape: the caller supplies
// before/after field maps, and the manifest registered for the entity type
// supplies the excluded fields.
type Mutation struct {
	EntityType string
	SubjectID  string
	Action     Action
	ActorID    string
	ActorName  string
	// Reason is the required free-text justification, pre-sanitized by the
	// caller.
	Reason       string
	SourceIP     string
	SessionID    string
	FieldReasons map[string]string

	// Snapshot fetches the record's prior field values inside the
	// transaction. Implementations lock the target row (SELECT ... FOR
	// UPDATE) so that concurrent mutations of the same record cannot
	// interleave and attribute a change against a stale baseline. nil means
	// there is no prior state (creation).
	Snapshot func(ctx context.Context) (map[string]any, error)

	// Apply performs the domain write and returns the submitted field set.
	// It runs inside the same transaction as the audit append; if the append
	// later fails, this write rolls back with it.
	Apply func(ctx context.Context) (map[string]any, error)
}

// Coordinator runs one audited mutation as one atomic unit against the
// correct study database: resolve tenant, snapshot, apply, diff, seal,
// append.
type Coordinator struct {
	router  *db.Router
	sealer  *Sealer
	logger  zerolog.Logger
	metrics *Metrics

	// newLedger and runTx are seams for tests: swap in a fake ledger and a
	// pass-through transaction runner to exercise the coordinator without a
	// live database.
	newLedger func(pool *pgxpool.Pool) Ledger
	runTx     func(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error
}

func NewCoordinator(router *db.Router, sealer *Sealer, logger zerolog.Logger, metrics *Metrics) *Coordinator {
	return &Coordinator{
		router:    router,
		sealer:    sealer,
		logger:    logger.With().Str("component", "audit").Logger(),
		metrics:   metrics,
		newLedger: NewLedgerPG,
		runTx:     db.WithTx,
	}
}

// Validate checks at startup that every registered manifest's entity type
// has a routing rule. Routing gaps are fatal configuration errors; they must
// never surface per-request.
func (c *Coordinator) Validate() error {
	return c.router.Validate(RegisteredEntityTypes()...)
}

// Record executes a mutation and its audit capture in one transaction on the
// resolved study database. It returns the sealed event, or nil when the
// mutation produced no auditable change (an UPDATE whose submitted values
// all normalize equal to the prior values writes no event).
//
// Any failure after the domain write — change detection, sealing, append —
// rolls the domain write back too. An audited mutation without a successful
// audit record is a failed mutation, never a silent gap in the trail.
func (c *Coordinator) Record(ctx context.Context, m Mutation) (*Event, error) {
	if !m.Action.Valid() {
		return nil, fmt.Errorf("invalid audit action %q", m.Action)
	}
	if m.Reason == "" {
		return nil, errors.New("audit reason is required")
	}
	if m.Apply == nil && m.Action != ActionView {
		return nil, errors.New("mutation has no Apply function")
	}

	manifest, ok := ManifestFor(m.EntityType)
	if !ok {
		return nil, fmt.Errorf("entity type %q: %w", m.EntityType, ErrNoManifest)
	}

	pool, tenantID, err := c.router.PoolFor(ctx, m.EntityType)
	if err != nil {
		return nil, err
	}

	// Views of entity types that do not log views still run the snapshot:
	// callers load the record through it, and a not-found error must surface
	// the same way whether or not an event gets written. Only the capture is
	// skipped.
	if m.Action == ActionView && !manifest.LogViews {
		if m.Snapshot != nil {
			if _, err := m.Snapshot(ctx); err != nil {
				return nil, fmt.Errorf("snapshot %s %s: %w", m.EntityType, m.SubjectID, err)
			}
		}
		return nil, nil
	}

	start := time.Now()
	var event *Event
	err = c.runTx(ctx, pool, func(txCtx context.Context) error {
		var oldValues map[string]any
		if m.Snapshot != nil {
			var err error
			if oldValues, err = m.Snapshot(txCtx); err != nil {
				return fmt.Errorf("snapshot %s %s: %w", m.EntityType, m.SubjectID, err)
			}
		}

		var newValues map[string]any
		if m.Apply != nil {
			var err error
			if newValues, err = m.Apply(txCtx); err != nil {
				return err
			}
		}

		excluded := manifest.ExcludedSet()
		var changes []FieldChange
		switch m.Action {
		case ActionCreate:
			changes = CreationChanges(newValues, excluded)
		case ActionUpdate:
			changes = DetectChanges(oldValues, newValues, excluded)
			if len(changes) == 0 {
				// Format-only or no-op submissions produce no audit noise.
				return nil
			}
		case ActionView:
			// A view commits to the state it exposed.
			changes = CreationChanges(oldValues, excluded)
		}

		event = &Event{
			ActorID:    m.ActorID,
			ActorName:  m.ActorName,
			OccurredAt: time.Now().UTC(),
			Action:     m.Action,
			EntityType: m.EntityType,
			SubjectID:  m.SubjectID,
			TenantID:   tenantID,
			Reason:     m.Reason,
			SourceIP:   m.SourceIP,
			SessionID:  m.SessionID,
			Verified:   true,
		}

		details := make([]Detail, 0, len(changes))
		for _, ch := range changes {
			details = append(details, Detail{
				FieldName:   ch.Field,
				OldValue:    ch.OldValue,
				NewValue:    ch.NewValue,
				FieldReason: m.FieldReasons[ch.Field],
			})
		}

		checksum, err := c.sealer.Seal(event, details)
		if err != nil {
			return err
		}
		event.Checksum = checksum

		if _, err := c.newLedger(pool).Append(txCtx, event, details); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if event != nil && event.ID != uuid.Nil {
		c.metrics.EventsAppended.WithLabelValues(string(event.Action)).Inc()
		c.metrics.AppendDuration.Observe(time.Since(start).Seconds())
		c.logger.Info().
			Str("event_id", event.ID.String()).
			Str("study", tenantID).
			Str("entity_type", m.EntityType).
			Str("subject_id", m.SubjectID).
			Str("action", string(m.Action)).
			Str("actor", m.ActorID).
			Msg("audit event sealed")
		return event, nil
	}
	return nil, nil
}
