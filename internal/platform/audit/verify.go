package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edc/edc/internal/platform/db"
)

// EntityType names the audit trail itself. It routes to the study databases
// and labels the flag events the verification sweep appends.
const EntityType = "AUDIT_EVENT"

// Report summarizes one verification sweep.
type Report struct {
	Studies    int `json:"studies"`
	Checked    int `json:"checked"`
	Mismatches int `json:"mismatches"`
}

// Verifier walks every study's ledger re-deriving checksums to detect
// tampering. Mismatches are recorded and alerted, never auto-repaired; the
// sweep itself keeps going so one bad event does not hide others.
type Verifier struct {
	reg         *db.Registry
	sealer      *Sealer
	logger      zerolog.Logger
	metrics     *Metrics
	batchSize   int
	concurrency int

	newLedger func(pool *pgxpool.Pool) Ledger
	runTx     func(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error
}

func NewVerifier(reg *db.Registry, sealer *Sealer, logger zerolog.Logger, metrics *Metrics, batchSize, concurrency int) *Verifier {
	if batchSize <= 0 {
		batchSize = 500
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Verifier{
		reg:         reg,
		sealer:      sealer,
		logger:      logger.With().Str("component", "audit-verify").Logger(),
		metrics:     metrics,
		batchSize:   batchSize,
		concurrency: concurrency,
		newLedger:   NewLedgerPG,
		runTx:       db.WithTx,
	}
}

// Run sweeps all registered studies concurrently, re-verifying every event
// recorded since the given time. runBy identifies the operator or scheduled
// job for the verification events written on mismatch.
func (v *Verifier) Run(ctx context.Context, since time.Time, runBy string) (*Report, error) {
	v.metrics.VerificationRuns.Inc()

	studies := v.reg.TenantIDs()
	report := &Report{Studies: len(studies)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)

	for _, studyID := range studies {
		studyID := studyID
		g.Go(func() error {
			checked, mismatches, err := v.verifyStudy(gctx, studyID, since, runBy)
			mu.Lock()
			report.Checked += checked
			report.Mismatches += mismatches
			mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func (v *Verifier) verifyStudy(ctx context.Context, studyID string, since time.Time, runBy string) (checked, mismatches int, err error) {
	pool, err := v.reg.Tenant(studyID)
	if err != nil {
		return 0, 0, err
	}
	ledger := v.newLedger(pool)

	for offset := 0; ; offset += v.batchSize {
		events, _, err := ledger.List(ctx, ListFilters{Since: since, Limit: v.batchSize, Offset: offset})
		if err != nil {
			return checked, mismatches, fmt.Errorf("list study %s: %w", studyID, err)
		}
		if len(events) == 0 {
			return checked, mismatches, nil
		}

		for _, event := range events {
			details, err := ledger.Details(ctx, event.ID)
			if err != nil {
				return checked, mismatches, fmt.Errorf("details for %s: %w", event.ID, err)
			}

			ok, err := v.sealer.Verify(event, details)
			if err != nil {
				return checked, mismatches, err
			}
			checked++
			v.metrics.EventsVerified.Inc()
			if ok {
				continue
			}

			mismatches++
			v.metrics.IntegrityMismatches.Inc()
			v.alert(&IntegrityMismatch{
				EventID:    event.ID,
				TenantID:   studyID,
				ActorID:    event.ActorID,
				Action:     event.Action,
				OccurredAt: event.OccurredAt,
			})

			if event.Verified {
				if err := v.flag(ctx, pool, ledger, event, studyID, runBy); err != nil {
					return checked, mismatches, err
				}
			}
		}
	}
}

// flag marks the event unverified and appends a sealed verification event
// recording who ran the sweep and when, in one transaction.
func (v *Verifier) flag(ctx context.Context, pool *pgxpool.Pool, ledger Ledger, event *Event, studyID, runBy string) error {
	return v.runTx(ctx, pool, func(txCtx context.Context) error {
		if err := ledger.MarkUnverified(txCtx, event.ID); err != nil {
			return err
		}

		flagEvent := &Event{
			ActorID:    runBy,
			ActorName:  runBy,
			OccurredAt: time.Now().UTC(),
			Action:     ActionUpdate,
			EntityType: EntityType,
			SubjectID:  event.ID.String(),
			TenantID:   studyID,
			Reason:     "integrity verification detected checksum mismatch",
			Verified:   true,
		}
		oldVal, newVal := "true", "false"
		details := []Detail{{FieldName: "VERIFIED", OldValue: &oldVal, NewValue: &newVal}}

		checksum, err := v.sealer.Seal(flagEvent, details)
		if err != nil {
			return err
		}
		flagEvent.Checksum = checksum

		_, err = ledger.Append(txCtx, flagEvent, details)
		return err
	})
}

// alert writes the operator-visible security incident. Only identifying
// metadata is logged; field payloads never reach alert channels.
func (v *Verifier) alert(m *IntegrityMismatch) {
	v.logger.Error().
		Str("event_id", m.EventID.String()).
		Str("study", m.TenantID).
		Str("actor", m.ActorID).
		Str("action", string(m.Action)).
		Time("occurred_at", m.OccurredAt).
		Msg("audit integrity mismatch detected")
}
