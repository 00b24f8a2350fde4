package agentstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"loanflow/audit"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Tracker records the lifecycle of pipeline stage executions. Every transition
// commits its own transaction together with a correlated audit entry, so
// polling clients observe each transition as soon as it happens.
type Tracker struct {
	pool   TxBeginner
	repo   Repository
	audits audit.Writer
	ids    func() string
	now    func() time.Time
}

// NewTracker builds a Tracker over the given pool, repository and audit writer.
func NewTracker(pool TxBeginner, repo Repository, audits audit.Writer) *Tracker {
	return &Tracker{
		pool:   pool,
		repo:   repo,
		audits: audits,
		ids:    func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

// WithIDGenerator overrides ID generation, for tests.
func (t *Tracker) WithIDGenerator(gen func() string) *Tracker {
	t.ids = gen
	return t
}

// WithClock overrides the clock, for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Begin opens a stage execution record for the application and returns its ID.
// The record moves straight from pending into processing.
func (t *Tracker) Begin(ctx context.Context, applicationID string, stage Stage, input map[string]any) (string, error) {
	if applicationID == "" {
		return "", fmt.Errorf("agentstate: missing application id")
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("agentstate: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	st := State{
		ID:            t.ids(),
		ApplicationID: applicationID,
		Stage:         stage,
		Status:        StatusProcessing,
		Input:         toJSON(input),
		StartedAt:     t.now(),
	}

	created, err := t.repo.Insert(ctx, tx, st)
	if err != nil {
		return "", err
	}

	if err := t.appendAudit(ctx, tx, created, audit.ActionAgentStarted, nil); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("agentstate: commit begin: %w", err)
	}
	return created.ID, nil
}

// Complete finishes a stage execution with its structured output.
func (t *Tracker) Complete(ctx context.Context, stateID string, output map[string]any) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("agentstate: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := t.repo.MarkCompleted(ctx, tx, stateID, toJSON(output))
	if err != nil {
		return err
	}

	if err := t.appendAudit(ctx, tx, st, audit.ActionAgentCompleted, nil); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("agentstate: commit complete: %w", err)
	}
	return nil
}

// Fail finishes a stage execution with the error that stopped it.
func (t *Tracker) Fail(ctx context.Context, stateID string, stageErr error) error {
	detail := "unknown failure"
	if stageErr != nil {
		detail = stageErr.Error()
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("agentstate: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := t.repo.MarkFailed(ctx, tx, stateID, detail)
	if err != nil {
		return err
	}

	if err := t.appendAudit(ctx, tx, st, audit.ActionAgentFailed, map[string]any{"error": detail}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("agentstate: commit fail: %w", err)
	}
	return nil
}

// ListByApplication exposes the ordered stage records for polling clients.
func (t *Tracker) ListByApplication(ctx context.Context, applicationID string) ([]State, error) {
	return t.repo.ListByApplication(ctx, applicationID)
}

func (t *Tracker) appendAudit(ctx context.Context, tx pgx.Tx, st State, action audit.Action, extra map[string]any) error {
	details := map[string]any{"state_id": st.ID}
	for k, v := range extra {
		details[k] = v
	}

	stage := string(st.Stage)
	entry := audit.Entry{
		ApplicationID: &st.ApplicationID,
		Action:        action,
		Stage:         &stage,
		Details:       details,
	}
	if err := t.audits.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("agentstate: append audit: %w", err)
	}
	return nil
}

func toJSON(m map[string]any) []byte {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return b
}
