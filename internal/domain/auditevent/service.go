package auditevent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/platform/audit"
	"github.com/edc/edc/internal/platform/db"
)

// Service is the read side of the audit trail. It has no write path at all:
// events enter the ledger only through the coordinator, and the single
// mutation (flagging a failed verification) belongs to the verifier.
type Service struct {
	router   *db.Router
	verifier *audit.Verifier
	logger   zerolog.Logger

	newLedger func(pool *pgxpool.Pool) audit.Ledger
}

func NewService(router *db.Router, verifier *audit.Verifier, logger zerolog.Logger) *Service {
	return &Service{
		router:    router,
		verifier:  verifier,
		logger:    logger.With().Str("component", "auditevent").Logger(),
		newLedger: audit.NewLedgerPG,
	}
}

func (s *Service) ledger(ctx context.Context) (audit.Ledger, error) {
	pool, _, err := s.router.PoolFor(ctx, audit.EntityType)
	if err != nil {
		return nil, err
	}
	return s.newLedger(pool), nil
}

// List returns the study's trail entries matching the filters, newest-first
// ordering is left to the ledger.
func (s *Service) List(ctx context.Context, f audit.ListFilters) ([]*audit.Event, int, error) {
	ledger, err := s.ledger(ctx)
	if err != nil {
		return nil, 0, err
	}
	return ledger.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*audit.Event, error) {
	ledger, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.Get(ctx, id)
}

func (s *Service) Details(ctx context.Context, id uuid.UUID) ([]audit.Detail, error) {
	ledger, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := ledger.Get(ctx, id); err != nil {
		return nil, err
	}
	return ledger.Details(ctx, id)
}

// Verify sweeps every registered study's ledger and re-checks each event's
// seal. Tampered events come back flagged; the caller gets the aggregate
// report.
func (s *Service) Verify(ctx context.Context, since time.Time, runBy string) (*audit.Report, error) {
	report, err := s.verifier.Run(ctx, since, runBy)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Int("studies", report.Studies).
		Int("checked", report.Checked).
		Int("mismatches", report.Mismatches).
		Str("run_by", runBy).
		Msg("integrity verification completed")
	return report, nil
}
