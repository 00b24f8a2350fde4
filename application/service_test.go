package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"loanflow/audit"
	"loanflow/scoring"
)

func validSubmit() SubmitRequest {
	return SubmitRequest{
		ApplicantUserID:    "user-1",
		FullName:           "Jordan Example",
		Email:              "jordan@example.com",
		EmployerName:       "Acme Co",
		EmploymentStatus:   "full_time",
		EmploymentDuration: "5+y",
		AnnualIncomeCents:  120_000_00,
		MonthlyDebtCents:   500_00,
		LoanAmountCents:    20_000_00,
	}
}

func newTestService() (*Service, *fakeAppRepo, *fakeAuditWriter, *fakeDispatcher) {
	repo := newFakeAppRepo()
	audits := &fakeAuditWriter{}
	dispatch := &fakeDispatcher{}
	svc := NewService(&fakePool{}, repo, audits, dispatch).
		WithIDGenerator(newSequentialIDs()).
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	return svc, repo, audits, dispatch
}

func TestSubmit_CreatesProcessingApplicationAndDispatches(t *testing.T) {
	svc, repo, audits, dispatch := newTestService()

	app, err := svc.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: unexpected error: %v", err)
	}

	if app.Status != StatusProcessing {
		t.Fatalf("expected processing status at creation, got %s", app.Status)
	}
	if app.FinalDecision != nil {
		t.Fatal("expected no final decision while processing")
	}
	if _, ok := repo.apps[app.ID]; !ok {
		t.Fatal("expected application persisted")
	}

	if len(audits.entries) != 1 || audits.entries[0].Action != audit.ActionApplicationSubmitted {
		t.Fatalf("expected one application_submitted entry, got %+v", audits.entries)
	}
	if len(dispatch.enqueued) != 1 || dispatch.enqueued[0] != app.ID {
		t.Fatalf("expected application enqueued, got %v", dispatch.enqueued)
	}
}

func TestSubmit_ValidationLeavesNoState(t *testing.T) {
	svc, repo, audits, dispatch := newTestService()

	cases := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"missing applicant", func(r *SubmitRequest) { r.ApplicantUserID = "" }},
		{"missing name", func(r *SubmitRequest) { r.FullName = "  " }},
		{"bad employment status", func(r *SubmitRequest) { r.EmploymentStatus = "gig" }},
		{"bad duration", func(r *SubmitRequest) { r.EmploymentDuration = "forever" }},
		{"negative income", func(r *SubmitRequest) { r.AnnualIncomeCents = -1 }},
		{"zero loan amount", func(r *SubmitRequest) { r.LoanAmountCents = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validSubmit()
			tc.mutate(&req)
			if _, err := svc.Submit(context.Background(), req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if len(repo.apps) != 0 || len(audits.entries) != 0 || len(dispatch.enqueued) != 0 {
		t.Fatal("validation failures must not create state")
	}
}

func TestSubmit_EnqueueFailureDoesNotFailSubmission(t *testing.T) {
	svc, _, _, dispatch := newTestService()
	dispatch.err = errors.New("queue full")

	app, err := svc.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit should survive enqueue failure, got %v", err)
	}
	if app.Status != StatusProcessing {
		t.Fatalf("expected processing, got %s", app.Status)
	}
}

func TestFinalizeDecision_WritesDecisionAudit(t *testing.T) {
	svc, repo, audits, _ := newTestService()

	app, err := svc.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	err = svc.FinalizeDecision(context.Background(), FinalizeParams{
		ApplicationID: app.ID,
		Status:        StatusApproved,
		RiskTier:      scoring.TierLow,
		CreditScore:   850,
		FinalDecision: scoring.DecisionApproved,
		Explanation:   "Approved on strong income and low debt load.",
	})
	if err != nil {
		t.Fatalf("finalize: unexpected error: %v", err)
	}

	updated := repo.apps[app.ID]
	if updated.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", updated.Status)
	}
	if updated.FinalDecision == nil || *updated.FinalDecision != scoring.DecisionApproved {
		t.Fatal("expected final decision set")
	}
	if updated.CreditScore == nil || *updated.CreditScore != 850 {
		t.Fatal("expected credit score set")
	}

	last := audits.entries[len(audits.entries)-1]
	if last.Action != audit.ActionDecisionMade {
		t.Fatalf("expected decision_made entry, got %s", last.Action)
	}

	// A second decision write against the same application must be refused.
	err = svc.FinalizeDecision(context.Background(), FinalizeParams{
		ApplicationID: app.ID,
		Status:        StatusRejected,
		FinalDecision: scoring.DecisionRejected,
	})
	if !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("expected ErrNotProcessing, got %v", err)
	}
}

func TestMarkFailed_NoDecisionAudit(t *testing.T) {
	svc, repo, audits, _ := newTestService()

	app, err := svc.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	before := len(audits.entries)

	if err := svc.MarkFailed(context.Background(), app.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	updated := repo.apps[app.ID]
	if updated.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", updated.Status)
	}
	if updated.Explanation == nil || *updated.Explanation != FailureExplanation {
		t.Fatal("expected fixed technical-failure explanation")
	}
	if len(audits.entries) != before {
		t.Fatalf("mark failed must not append audit entries, got %+v", audits.entries[before:])
	}
}

func TestOverride_Validation(t *testing.T) {
	svc, _, _, _ := newTestService()

	app, err := svc.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	base := OverrideParams{
		ApplicationID: app.ID,
		ActorID:       "officer-1",
		ActorRole:     "loan_officer",
		NewDecision:   scoring.DecisionApproved,
		Reason:        "manual review cleared it",
	}

	p := base
	p.ActorRole = "applicant"
	if _, err := svc.Override(context.Background(), p); !errors.Is(err, ErrOverrideForbidden) {
		t.Fatalf("expected ErrOverrideForbidden, got %v", err)
	}

	p = base
	p.NewDecision = scoring.DecisionEscalated
	if _, err := svc.Override(context.Background(), p); !errors.Is(err, ErrOverrideInvalidDecision) {
		t.Fatalf("expected ErrOverrideInvalidDecision, got %v", err)
	}

	p = base
	p.Reason = "too short" // 9 characters
	if _, err := svc.Override(context.Background(), p); !errors.Is(err, ErrOverrideReasonTooShort) {
		t.Fatalf("expected ErrOverrideReasonTooShort, got %v", err)
	}

	// Still processing: override must be rejected even with valid inputs.
	if _, err := svc.Override(context.Background(), base); !errors.Is(err, ErrOverrideWhileProcessing) {
		t.Fatalf("expected ErrOverrideWhileProcessing, got %v", err)
	}
}

func TestOverride_AppliesAndAudits(t *testing.T) {
	svc, _, audits, _ := newTestService()

	app, err := svc.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.FinalizeDecision(context.Background(), FinalizeParams{
		ApplicationID: app.ID,
		Status:        StatusEscalated,
		RiskTier:      scoring.TierMedium,
		CreditScore:   650,
		FinalDecision: scoring.DecisionEscalated,
		Explanation:   "Escalated for manual review.",
	}); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	updated, err := svc.Override(context.Background(), OverrideParams{
		ApplicationID: app.ID,
		ActorID:       "officer-1",
		ActorRole:     "loan_officer",
		NewDecision:   scoring.DecisionApproved,
		Reason:        "ten chars!", // exactly 10 characters
	})
	if err != nil {
		t.Fatalf("override: unexpected error: %v", err)
	}

	if updated.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", updated.Status)
	}
	if updated.FinalDecision == nil || *updated.FinalDecision != scoring.DecisionApproved {
		t.Fatal("expected final decision replaced")
	}
	if updated.OverriddenBy == nil || *updated.OverriddenBy != "officer-1" {
		t.Fatal("expected overriddenBy stamped")
	}
	if updated.OverriddenAt == nil {
		t.Fatal("expected overriddenAt stamped")
	}

	var overrides []audit.Entry
	for _, e := range audits.entries {
		if e.Action == audit.ActionOverrideApplied {
			overrides = append(overrides, e)
		}
	}
	if len(overrides) != 1 {
		t.Fatalf("expected exactly one override_applied entry, got %d", len(overrides))
	}
	if overrides[0].Details["previous_decision"] != "escalated" || overrides[0].Details["new_decision"] != "approved" {
		t.Fatalf("expected previous/new decision on audit entry, got %v", overrides[0].Details)
	}
}

// --- fakes ---

type fakeAppRepo struct {
	apps map[string]Application
}

func newFakeAppRepo() *fakeAppRepo {
	return &fakeAppRepo{apps: make(map[string]Application)}
}

func (f *fakeAppRepo) Create(ctx context.Context, tx pgx.Tx, app Application) (Application, error) {
	app.Status = StatusProcessing
	app.CreatedAt = time.Now().UTC()
	app.UpdatedAt = app.CreatedAt
	f.apps[app.ID] = app
	return app, nil
}

func (f *fakeAppRepo) GetByID(ctx context.Context, id string) (Application, error) {
	app, ok := f.apps[id]
	if !ok {
		return Application{}, ErrNotFound
	}
	return app, nil
}

func (f *fakeAppRepo) List(ctx context.Context, filters Filters) ([]Application, int, error) {
	out := []Application{}
	for _, app := range f.apps {
		out = append(out, app)
	}
	return out, len(out), nil
}

func (f *fakeAppRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Application, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeAppRepo) FinalizeDecision(ctx context.Context, tx pgx.Tx, params FinalizeParams) (Application, error) {
	app, ok := f.apps[params.ApplicationID]
	if !ok {
		return Application{}, ErrNotFound
	}
	if app.Status != StatusProcessing {
		return Application{}, ErrNotProcessing
	}
	app.Status = params.Status
	if params.RiskTier != "" {
		tier := params.RiskTier
		app.RiskTier = &tier
	}
	if params.CreditScore != 0 {
		score := params.CreditScore
		app.CreditScore = &score
	}
	decision := params.FinalDecision
	app.FinalDecision = &decision
	explanation := params.Explanation
	app.Explanation = &explanation
	app.UpdatedAt = time.Now().UTC()
	f.apps[params.ApplicationID] = app
	return app, nil
}

func (f *fakeAppRepo) ApplyOverride(ctx context.Context, tx pgx.Tx, params OverrideWrite) (Application, error) {
	app, ok := f.apps[params.ApplicationID]
	if !ok {
		return Application{}, ErrNotFound
	}
	app.Status = Status(params.NewDecision)
	decision := params.NewDecision
	app.FinalDecision = &decision
	actor := params.ActorID
	app.OverriddenBy = &actor
	reason := params.Reason
	app.OverrideReason = &reason
	at := params.At
	app.OverriddenAt = &at
	app.UpdatedAt = time.Now().UTC()
	f.apps[params.ApplicationID] = app
	return app, nil
}

type fakeAuditWriter struct {
	entries []audit.Entry
}

func (f *fakeAuditWriter) Append(ctx context.Context, tx pgx.Tx, entry audit.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeDispatcher struct {
	enqueued []string
	err      error
}

func (f *fakeDispatcher) Enqueue(applicationID string) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, applicationID)
	return nil
}

func newSequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("app-%d", n)
	}
}

type fakePool struct{}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

type fakeTx struct{}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error   { return nil }
func (f *fakeTx) Rollback(context.Context) error { return nil }

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn { return nil }
