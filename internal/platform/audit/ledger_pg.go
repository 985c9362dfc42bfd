package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edc/edc/internal/platform/db"
)

const eventColumns = `id, actor_id, actor_name, occurred_at, action, entity_type,
	subject_id, tenant_id, reason, source_ip, session_id, checksum, verified, created_at`

type ledgerPG struct {
	pool *pgxpool.Pool
}

// NewLedgerPG creates the PostgreSQL ledger for one study database. The
// audit_event/audit_detail tables additionally carry triggers rejecting
// updates and deletes, so immutability holds even for SQL that bypasses this
// type.
func NewLedgerPG(pool *pgxpool.Pool) Ledger {
	return &ledgerPG{pool: pool}
}

func (l *ledgerPG) conn(ctx context.Context) db.Executor {
	return db.ExecutorFrom(ctx, l.pool)
}

func (l *ledgerPG) Append(ctx context.Context, event *Event, details []Detail) (uuid.UUID, error) {
	if event.Reason == "" {
		return uuid.Nil, &PersistenceError{Op: "append", Err: errors.New("reason is required")}
	}
	if len(event.Checksum) != ChecksumLength {
		return uuid.Nil, &PersistenceError{Op: "append", Err: fmt.Errorf("checksum must be %d hex chars, got %d", ChecksumLength, len(event.Checksum))}
	}

	event.ID = uuid.New()
	event.Verified = true
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	conn := l.conn(ctx)
	err := conn.QueryRow(ctx, `
		INSERT INTO audit_event (
			id, actor_id, actor_name, occurred_at, action, entity_type,
			subject_id, tenant_id, reason, source_ip, session_id, checksum, verified
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at`,
		event.ID, event.ActorID, event.ActorName, event.OccurredAt, event.Action, event.EntityType,
		event.SubjectID, event.TenantID, event.Reason, event.SourceIP, event.SessionID, event.Checksum, event.Verified,
	).Scan(&event.CreatedAt)
	if err != nil {
		return uuid.Nil, &PersistenceError{Op: "append event", Err: err}
	}

	for i := range details {
		details[i].ID = uuid.New()
		details[i].EventID = event.ID
		_, err := conn.Exec(ctx, `
			INSERT INTO audit_detail (id, event_id, field_name, old_value, new_value, field_reason)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			details[i].ID, details[i].EventID, details[i].FieldName,
			details[i].OldValue, details[i].NewValue, details[i].FieldReason,
		)
		if err != nil {
			return uuid.Nil, &PersistenceError{Op: "append detail", Err: err}
		}
	}

	return event.ID, nil
}

func (l *ledgerPG) Get(ctx context.Context, id uuid.UUID) (*Event, error) {
	row := l.conn(ctx).QueryRow(ctx, `SELECT `+eventColumns+` FROM audit_event WHERE id = $1`, id)
	event, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return event, err
}

func (l *ledgerPG) Details(ctx context.Context, eventID uuid.UUID) ([]Detail, error) {
	rows, err := l.conn(ctx).Query(ctx, `
		SELECT id, event_id, field_name, old_value, new_value, field_reason
		FROM audit_detail WHERE event_id = $1 ORDER BY field_name`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []Detail
	for rows.Next() {
		var d Detail
		if err := rows.Scan(&d.ID, &d.EventID, &d.FieldName, &d.OldValue, &d.NewValue, &d.FieldReason); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

func (l *ledgerPG) List(ctx context.Context, f ListFilters) ([]*Event, int, error) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.EntityType != "" {
		conditions = append(conditions, "entity_type = "+arg(f.EntityType))
	}
	if f.SubjectID != "" {
		conditions = append(conditions, "subject_id = "+arg(f.SubjectID))
	}
	if f.ActorID != "" {
		conditions = append(conditions, "actor_id = "+arg(f.ActorID))
	}
	if f.Action != "" {
		conditions = append(conditions, "action = "+arg(f.Action))
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= "+arg(f.Since))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := l.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM audit_event`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + eventColumns + ` FROM audit_event` + where +
		` ORDER BY occurred_at, created_at LIMIT ` + arg(limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := l.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}
	return events, total, rows.Err()
}

func (l *ledgerPG) MarkUnverified(ctx context.Context, eventID uuid.UUID) error {
	tag, err := l.conn(ctx).Exec(ctx,
		`UPDATE audit_event SET verified = FALSE WHERE id = $1 AND verified = TRUE`, eventID)
	if err != nil {
		return fmt.Errorf("mark unverified %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already unverified; distinguish for the caller.
		if _, err := l.Get(ctx, eventID); err != nil {
			return err
		}
	}
	return nil
}

func (l *ledgerPG) Update(ctx context.Context, event *Event) error {
	return fmt.Errorf("update audit event %s: %w", event.ID, ErrImmutabilityViolation)
}

func (l *ledgerPG) Delete(ctx context.Context, id uuid.UUID) error {
	return fmt.Errorf("delete audit event %s: %w", id, ErrImmutabilityViolation)
}

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(
		&e.ID, &e.ActorID, &e.ActorName, &e.OccurredAt, &e.Action, &e.EntityType,
		&e.SubjectID, &e.TenantID, &e.Reason, &e.SourceIP, &e.SessionID, &e.Checksum, &e.Verified, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
