package study

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/platform/db"
)

// managementTables are the tables that belong only in the management
// database. Study provisioning forbids them when migrating a clinical
// database so a misconfigured migration set fails fast.
var managementTables = []string{"study", "app_user"}

// Service provisions and manages studies. Creating a study registers its row
// in the management database, dials its clinical database, and applies the
// tenant migrations there.
type Service struct {
	repo          Repository
	reg           *db.Registry
	migrationsDir string
	logger        zerolog.Logger
}

func NewService(repo Repository, reg *db.Registry, migrationsDir string, logger zerolog.Logger) *Service {
	return &Service{
		repo:          repo,
		reg:           reg,
		migrationsDir: migrationsDir,
		logger:        logger.With().Str("component", "study").Logger(),
	}
}

// InputError is a caller mistake; its message is safe to return verbatim.
type InputError struct {
	msg string
}

func (e *InputError) Error() string { return e.msg }

func inputError(format string, args ...any) error {
	return &InputError{msg: fmt.Sprintf(format, args...)}
}

type CreateInput struct {
	StudyID  string
	Name     string
	Sponsor  *string
	Protocol *string
}

// Create registers a new study and provisions its clinical database schema.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Study, error) {
	if !ValidStudyID(in.StudyID) {
		return nil, inputError("invalid study id %q: must be 3-63 lowercase alphanumerics or underscores", in.StudyID)
	}
	if in.Name == "" {
		return nil, inputError("study name is required")
	}
	if existing, err := s.repo.GetByStudyID(ctx, in.StudyID); err == nil && existing != nil {
		return nil, inputError("study %q already exists", in.StudyID)
	}

	st := &Study{
		StudyID:  in.StudyID,
		Name:     in.Name,
		Sponsor:  in.Sponsor,
		Protocol: in.Protocol,
		Active:   true,
	}
	if err := s.repo.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("create study %q: %w", in.StudyID, err)
	}

	if err := s.Provision(ctx, st); err != nil {
		return nil, err
	}

	s.logger.Info().Str("study", st.StudyID).Msg("study created and provisioned")
	return st, nil
}

// Provision dials the study's clinical database and applies the tenant
// migrations. It is idempotent: re-running applies only pending migrations.
func (s *Service) Provision(ctx context.Context, st *Study) error {
	pool, err := s.reg.Connect(ctx, st.StudyID)
	if err != nil {
		return fmt.Errorf("provision study %q: %w", st.StudyID, err)
	}

	migrator := db.NewMigrator(pool, s.migrationsDir, db.KindTenant)
	migrator.ForbidTables(managementTables...)
	applied, err := migrator.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate study %q: %w", st.StudyID, err)
	}
	if applied > 0 {
		s.logger.Info().Str("study", st.StudyID).Int("migrations", applied).Msg("study database migrated")
	}
	return nil
}

// ConnectAll dials every active study's database at startup so the registry
// and verification sweep see the full tenant set.
func (s *Service) ConnectAll(ctx context.Context) error {
	studies, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active studies: %w", err)
	}
	for _, st := range studies {
		if _, err := s.reg.Connect(ctx, st.StudyID); err != nil {
			return fmt.Errorf("connect study %q: %w", st.StudyID, err)
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, studyID string) (*Study, error) {
	return s.repo.GetByStudyID(ctx, studyID)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Study, int, error) {
	return s.repo.List(ctx, limit, offset)
}
