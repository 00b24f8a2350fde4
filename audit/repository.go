package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Writer is the append-side contract other packages depend on. Append runs
// inside the caller's transaction so an audit entry commits atomically with the
// state change it describes.
type Writer interface {
	Append(ctx context.Context, tx pgx.Tx, entry Entry) error
}

// Repository persists and reads audit entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed audit repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts one entry within tx.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, entry Entry) error {
	const query = `
		INSERT INTO audit_log (application_id, actor_id, action, stage, details)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`

	if _, err := tx.Exec(ctx, query,
		entry.ApplicationID,
		entry.ActorID,
		entry.Action,
		entry.Stage,
		detailsJSON(entry.Details),
	); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

// Record inserts one entry outside any caller transaction, for actions that do
// not already hold one.
func (r *Repository) Record(ctx context.Context, entry Entry) error {
	const query = `
		INSERT INTO audit_log (application_id, actor_id, action, stage, details)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`

	if _, err := r.pool.Exec(ctx, query,
		entry.ApplicationID,
		entry.ActorID,
		entry.Action,
		entry.Stage,
		detailsJSON(entry.Details),
	); err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

// ListByApplication returns the audit trail for one application, oldest first.
func (r *Repository) ListByApplication(ctx context.Context, applicationID string) ([]Entry, error) {
	const query = `
		SELECT id, application_id, actor_id, action::text, stage, details, created_at
		FROM audit_log
		WHERE application_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, 8)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry   Entry
		details []byte
	)
	if err := row.Scan(
		&entry.ID,
		&entry.ApplicationID,
		&entry.ActorID,
		&entry.Action,
		&entry.Stage,
		&details,
		&entry.CreatedAt,
	); err != nil {
		return Entry{}, fmt.Errorf("audit: scan entry: %w", err)
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return Entry{}, fmt.Errorf("audit: decode details: %w", err)
		}
	}
	return entry, nil
}

func detailsJSON(m map[string]any) string {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(b)
}
