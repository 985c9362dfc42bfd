package screening

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edc/edc/internal/platform/db"
)

// ErrNotFound is returned for lookups of unknown case numbers.
var ErrNotFound = errors.New("screening case not found")

// ErrVersionConflict is returned when an update raced a concurrent write.
var ErrVersionConflict = errors.New("screening case was modified concurrently")

const caseColumns = `id, case_number, status, consent_given, date_of_birth, screening_date, notes,
	version_id, created_at, updated_at`

type repoPG struct {
	router *db.Router
}

// NewRepo creates the PostgreSQL screening-case repository. Every call
// resolves the study database through the router; inside an audited
// mutation the context's transaction takes precedence, so domain writes and
// audit appends share one transaction.
func NewRepo(router *db.Router) Repository {
	return &repoPG{router: router}
}

func (r *repoPG) conn(ctx context.Context) (db.Executor, error) {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx, nil
	}
	pool, _, err := r.router.PoolFor(ctx, EntityType)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (r *repoPG) Create(ctx context.Context, sc *ScreeningCase) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}

	sc.ID = uuid.New()
	sc.VersionID = 1
	_, err = conn.Exec(ctx, `
		INSERT INTO screening_case (id, case_number, status, consent_given, date_of_birth, screening_date, notes, version_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sc.ID, sc.CaseNumber, sc.Status, sc.ConsentGiven, sc.DateOfBirth, sc.ScreeningDate, sc.Notes, sc.VersionID,
	)
	return err
}

func (r *repoPG) GetByCaseNumber(ctx context.Context, caseNumber string) (*ScreeningCase, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	return r.scan(conn.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM screening_case WHERE case_number = $1`, caseNumber))
}

func (r *repoPG) GetByCaseNumberForUpdate(ctx context.Context, caseNumber string) (*ScreeningCase, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	return r.scan(conn.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM screening_case WHERE case_number = $1 FOR UPDATE`, caseNumber))
}

func (r *repoPG) Update(ctx context.Context, sc *ScreeningCase) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}

	tag, err := conn.Exec(ctx, `
		UPDATE screening_case SET
			status = $2, consent_given = $3, date_of_birth = $4, screening_date = $5, notes = $6,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $7`,
		sc.ID, sc.Status, sc.ConsentGiven, sc.DateOfBirth, sc.ScreeningDate, sc.Notes, sc.VersionID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update case %s: %w", sc.CaseNumber, ErrVersionConflict)
	}
	sc.VersionID++
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*ScreeningCase, int, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM screening_case`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx,
		`SELECT `+caseColumns+` FROM screening_case ORDER BY case_number LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var cases []*ScreeningCase
	for rows.Next() {
		sc, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		cases = append(cases, sc)
	}
	return cases, total, rows.Err()
}

func (r *repoPG) scan(row pgx.Row) (*ScreeningCase, error) {
	var sc ScreeningCase
	err := row.Scan(&sc.ID, &sc.CaseNumber, &sc.Status, &sc.ConsentGiven, &sc.DateOfBirth, &sc.ScreeningDate,
		&sc.Notes, &sc.VersionID, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan screening case: %w", err)
	}
	return &sc, nil
}
