package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"loanflow/audit"
	"loanflow/scoring"
)

var (
	// ErrOverrideForbidden signals the actor's role may not override decisions.
	ErrOverrideForbidden = errors.New("application: override forbidden")
	// ErrOverrideReasonTooShort signals a justification under ten characters.
	ErrOverrideReasonTooShort = errors.New("application: override reason must be at least 10 characters")
	// ErrOverrideInvalidDecision signals a target decision outside approved/rejected.
	ErrOverrideInvalidDecision = errors.New("application: override decision must be approved or rejected")
	// ErrOverrideWhileProcessing signals an override attempted before the
	// pipeline run reached a terminal state.
	ErrOverrideWhileProcessing = errors.New("application: cannot override while processing")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Dispatcher hands a freshly created application to the pipeline. The handoff
// is fire-and-forget: Submit never waits for the run.
type Dispatcher interface {
	Enqueue(applicationID string) error
}

// Service exposes submission, reads, decision writes and overrides.
type Service struct {
	pool     TxBeginner
	repo     Repository
	audits   audit.Writer
	dispatch Dispatcher
	ids      func() string
	now      func() time.Time
}

// NewService builds a Service. dispatch may be nil when no pipeline is
// attached (tests, offline tools).
func NewService(pool TxBeginner, repo Repository, audits audit.Writer, dispatch Dispatcher) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		audits:   audits,
		dispatch: dispatch,
		ids:      func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// WithIDGenerator overrides ID generation, for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.ids = gen
	return s
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit validates and persists a new application in the processing state,
// records the submission audit entry in the same transaction, then enqueues
// the pipeline run. Validation failures leave no state behind.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Application, error) {
	if err := validateSubmit(req); err != nil {
		return Application{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Application{}, fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app := Application{
		ID:                s.ids(),
		ApplicantUserID:   req.ApplicantUserID,
		FullName:          strings.TrimSpace(req.FullName),
		Email:             strings.TrimSpace(req.Email),
		EmployerName:      strings.TrimSpace(req.EmployerName),
		Employment:        scoring.EmploymentStatus(req.EmploymentStatus),
		Duration:          scoring.DurationBucket(req.EmploymentDuration),
		AnnualIncomeCents: req.AnnualIncomeCents,
		MonthlyDebtCents:  req.MonthlyDebtCents,
		LoanAmountCents:   req.LoanAmountCents,
		Status:            StatusProcessing,
	}

	created, err := s.repo.Create(ctx, tx, app)
	if err != nil {
		return Application{}, err
	}

	entry := audit.Entry{
		ApplicationID: &created.ID,
		ActorID:       &created.ApplicantUserID,
		Action:        audit.ActionApplicationSubmitted,
		Details: map[string]any{
			"loan_amount_cents": created.LoanAmountCents,
		},
	}
	if err := s.audits.Append(ctx, tx, entry); err != nil {
		return Application{}, fmt.Errorf("application: append submit audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Application{}, fmt.Errorf("application: commit submit: %w", err)
	}

	if s.dispatch != nil {
		if err := s.dispatch.Enqueue(created.ID); err != nil {
			// The submission is already durable; the run can be re-enqueued
			// by an operator, so this must not fail the caller.
			log.Printf("application: enqueue %s: %v", created.ID, err)
		}
	}

	return created, nil
}

// Get returns the current state of one application for polling clients.
func (s *Service) Get(ctx context.Context, id string) (Application, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a filtered page of applications.
func (s *Service) List(ctx context.Context, filters Filters) ([]Application, int, error) {
	return s.repo.List(ctx, filters)
}

// FinalizeDecision writes the outcome of a completed pipeline run: one atomic
// update of every decision field plus a decision_made audit entry.
func (s *Service) FinalizeDecision(ctx context.Context, params FinalizeParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.FinalizeDecision(ctx, tx, params)
	if err != nil {
		return err
	}

	entry := audit.Entry{
		ApplicationID: &app.ID,
		Action:        audit.ActionDecisionMade,
		Details: map[string]any{
			"decision":     string(params.FinalDecision),
			"risk_tier":    string(params.RiskTier),
			"credit_score": params.CreditScore,
		},
	}
	if err := s.audits.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("application: append decision audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("application: commit decision: %w", err)
	}
	return nil
}

// MarkFailed forces a failed run to the rejected terminal state with the fixed
// technical-failure explanation. The failing stage's audit entry is written by
// the state tracker; no decision_made entry exists for a failed run.
func (s *Service) MarkFailed(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.FinalizeDecision(ctx, tx, FinalizeParams{
		ApplicationID: id,
		Status:        StatusRejected,
		FinalDecision: scoring.DecisionRejected,
		Explanation:   FailureExplanation,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("application: commit failure: %w", err)
	}
	return nil
}

// OverrideParams captures a human actor's replacement of a pipeline decision.
type OverrideParams struct {
	ApplicationID string
	ActorID       string
	ActorRole     string
	NewDecision   scoring.Decision
	Reason        string
}

// Override replaces a decided application's outcome. It never re-runs the
// pipeline and never touches agent state records; a run still in processing
// cannot be overridden.
func (s *Service) Override(ctx context.Context, params OverrideParams) (Application, error) {
	if params.ApplicationID == "" || params.ActorID == "" {
		return Application{}, fmt.Errorf("application: override missing identifiers")
	}

	role := strings.ToLower(params.ActorRole)
	if role != "loan_officer" && role != "admin" {
		return Application{}, ErrOverrideForbidden
	}
	if params.NewDecision != scoring.DecisionApproved && params.NewDecision != scoring.DecisionRejected {
		return Application{}, ErrOverrideInvalidDecision
	}
	reason := strings.TrimSpace(params.Reason)
	if len(reason) < 10 {
		return Application{}, ErrOverrideReasonTooShort
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Application{}, fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, params.ApplicationID)
	if err != nil {
		return Application{}, err
	}
	if current.Status == StatusProcessing {
		return Application{}, ErrOverrideWhileProcessing
	}

	previous := ""
	if current.FinalDecision != nil {
		previous = string(*current.FinalDecision)
	}

	updated, err := s.repo.ApplyOverride(ctx, tx, OverrideWrite{
		ApplicationID: params.ApplicationID,
		NewDecision:   params.NewDecision,
		ActorID:       params.ActorID,
		Reason:        reason,
		At:            s.now(),
	})
	if err != nil {
		return Application{}, err
	}

	entry := audit.Entry{
		ApplicationID: &updated.ID,
		ActorID:       &params.ActorID,
		Action:        audit.ActionOverrideApplied,
		Details: map[string]any{
			"previous_decision": previous,
			"new_decision":      string(params.NewDecision),
			"reason":            reason,
		},
	}
	if err := s.audits.Append(ctx, tx, entry); err != nil {
		return Application{}, fmt.Errorf("application: append override audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Application{}, fmt.Errorf("application: commit override: %w", err)
	}

	return updated, nil
}

// DecisionStatus maps a provisional decision onto the application lifecycle.
func DecisionStatus(d scoring.Decision) Status {
	switch d {
	case scoring.DecisionApproved:
		return StatusApproved
	case scoring.DecisionRejected:
		return StatusRejected
	default:
		return StatusEscalated
	}
}

func validateSubmit(req SubmitRequest) error {
	if req.ApplicantUserID == "" {
		return fmt.Errorf("application: missing applicant user id")
	}
	if strings.TrimSpace(req.FullName) == "" || strings.TrimSpace(req.Email) == "" {
		return fmt.Errorf("application: applicant identity required")
	}
	if !scoring.ValidEmploymentStatus(scoring.EmploymentStatus(req.EmploymentStatus)) {
		return fmt.Errorf("application: invalid employment status %q", req.EmploymentStatus)
	}
	if !scoring.ValidDurationBucket(scoring.DurationBucket(req.EmploymentDuration)) {
		return fmt.Errorf("application: invalid employment duration %q", req.EmploymentDuration)
	}
	if req.AnnualIncomeCents < 0 || req.MonthlyDebtCents < 0 {
		return fmt.Errorf("application: income and debt must not be negative")
	}
	if req.LoanAmountCents <= 0 {
		return fmt.Errorf("application: loan amount must be positive")
	}
	return nil
}
