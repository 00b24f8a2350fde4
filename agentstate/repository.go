package agentstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the state record does not exist.
	ErrNotFound = errors.New("agentstate: not found")
	// ErrNotInProgress signals an attempt to finish a record that already
	// reached a terminal status. Completed and failed records are immutable.
	ErrNotInProgress = errors.New("agentstate: state not in progress")
)

// Repository defines the data access the tracker needs.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, st State) (State, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, stateID string, output []byte) (State, error)
	MarkFailed(ctx context.Context, tx pgx.Tx, stateID string, detail string) (State, error)
	ListByApplication(ctx context.Context, applicationID string) ([]State, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed agent state repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const stateColumns = `id, application_id, stage::text, status::text, input, output, error_detail, started_at, completed_at`

// Insert writes a fresh in-progress state record within tx.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, st State) (State, error) {
	const query = `
		INSERT INTO agent_states (id, application_id, stage, status, input, started_at)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5::jsonb, $6)
		RETURNING ` + stateColumns

	row := tx.QueryRow(ctx, query, st.ID, st.ApplicationID, st.Stage, st.Status, st.Input, st.StartedAt)
	created, err := scanState(row)
	if err != nil {
		return State{}, fmt.Errorf("agentstate: insert: %w", err)
	}
	return created, nil
}

// MarkCompleted finishes an in-progress record with its output. The update is
// guarded on status so a terminal record can never be rewritten.
func (r *PGRepository) MarkCompleted(ctx context.Context, tx pgx.Tx, stateID string, output []byte) (State, error) {
	const query = `
		UPDATE agent_states
		SET status = 'completed',
		    output = $2::jsonb,
		    completed_at = now()
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + stateColumns

	st, err := scanState(tx.QueryRow(ctx, query, stateID, output))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, r.classifyMissing(ctx, tx, stateID)
		}
		return State{}, fmt.Errorf("agentstate: mark completed: %w", err)
	}
	return st, nil
}

// MarkFailed finishes an in-progress record with an error detail. Output stays
// null: only completed records carry output.
func (r *PGRepository) MarkFailed(ctx context.Context, tx pgx.Tx, stateID string, detail string) (State, error) {
	const query = `
		UPDATE agent_states
		SET status = 'failed',
		    error_detail = $2,
		    completed_at = now()
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + stateColumns

	st, err := scanState(tx.QueryRow(ctx, query, stateID, detail))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, r.classifyMissing(ctx, tx, stateID)
		}
		return State{}, fmt.Errorf("agentstate: mark failed: %w", err)
	}
	return st, nil
}

// ListByApplication returns all stage records for one application in the order
// they started, which is pipeline order.
func (r *PGRepository) ListByApplication(ctx context.Context, applicationID string) ([]State, error) {
	const query = `
		SELECT ` + stateColumns + `
		FROM agent_states
		WHERE application_id = $1
		ORDER BY started_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("agentstate: list: %w", err)
	}
	defer rows.Close()

	states := make([]State, 0, len(Stages))
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("agentstate: scan state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agentstate: iterate: %w", err)
	}
	return states, nil
}

func (r *PGRepository) classifyMissing(ctx context.Context, tx pgx.Tx, stateID string) error {
	var status Status
	err := tx.QueryRow(ctx, `SELECT status::text FROM agent_states WHERE id = $1`, stateID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("agentstate: fetch status: %w", err)
	}
	return ErrNotInProgress
}

func scanState(row pgx.Row) (State, error) {
	var st State
	return st, row.Scan(
		&st.ID,
		&st.ApplicationID,
		&st.Stage,
		&st.Status,
		&st.Input,
		&st.Output,
		&st.ErrorDetail,
		&st.StartedAt,
		&st.CompletedAt,
	)
}
