package study

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edc/edc/internal/platform/db"
)

// ErrNotFound is returned for lookups of unknown studies.
var ErrNotFound = errors.New("study not found")

const studyColumns = `id, study_id, name, sponsor, protocol, database_dsn, active, created_at, updated_at`

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo creates the PostgreSQL study repository. It always runs against
// the management database; the registry never lives in a study database.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Executor {
	return db.ExecutorFrom(ctx, r.pool)
}

func (r *repoPG) Create(ctx context.Context, s *Study) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO study (id, study_id, name, sponsor, protocol, database_dsn, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.StudyID, s.Name, s.Sponsor, s.Protocol, s.DatabaseDSN, s.Active,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Study, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+studyColumns+` FROM study WHERE id = $1`, id))
}

func (r *repoPG) GetByStudyID(ctx context.Context, studyID string) (*Study, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+studyColumns+` FROM study WHERE study_id = $1`, studyID))
}

func (r *repoPG) Update(ctx context.Context, s *Study) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE study SET
			name = $2, sponsor = $3, protocol = $4, database_dsn = $5, active = $6, updated_at = NOW()
		WHERE id = $1`,
		s.ID, s.Name, s.Sponsor, s.Protocol, s.DatabaseDSN, s.Active,
	)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Study, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM study`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+studyColumns+` FROM study ORDER BY study_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var studies []*Study
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		studies = append(studies, s)
	}
	return studies, total, rows.Err()
}

func (r *repoPG) ListActive(ctx context.Context) ([]*Study, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+studyColumns+` FROM study WHERE active ORDER BY study_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var studies []*Study
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		studies = append(studies, s)
	}
	return studies, rows.Err()
}

func (r *repoPG) scan(row pgx.Row) (*Study, error) {
	var s Study
	err := row.Scan(&s.ID, &s.StudyID, &s.Name, &s.Sponsor, &s.Protocol, &s.DatabaseDSN, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan study: %w", err)
	}
	return &s, nil
}
