package pipeline

import (
	"context"
	"fmt"
	"log"

	"loanflow/agentstate"
	"loanflow/application"
	"loanflow/explain"
	"loanflow/scoring"
)

// ApplicationStore is the slice of the application service the orchestrator
// needs: read the record, write the terminal outcome.
type ApplicationStore interface {
	Get(ctx context.Context, id string) (application.Application, error)
	FinalizeDecision(ctx context.Context, params application.FinalizeParams) error
	MarkFailed(ctx context.Context, id string) error
}

// Tracker records stage lifecycles; see agentstate.Tracker.
type Tracker interface {
	Begin(ctx context.Context, applicationID string, stage agentstate.Stage, input map[string]any) (string, error)
	Complete(ctx context.Context, stateID string, output map[string]any) error
	Fail(ctx context.Context, stateID string, stageErr error) error
}

// Explainer turns a decided application into applicant-facing prose.
type Explainer interface {
	Explain(ctx context.Context, in explain.Input) (string, error)
}

// Orchestrator runs the four-stage scoring pipeline for one application at a
// time. Stages are strictly sequential; each stage's output feeds the next.
// A run either reaches decided or lands in failed, never in between.
type Orchestrator struct {
	apps      ApplicationStore
	tracker   Tracker
	explainer Explainer
}

// NewOrchestrator builds an Orchestrator over the given collaborators.
func NewOrchestrator(apps ApplicationStore, tracker Tracker, explainer Explainer) *Orchestrator {
	return &Orchestrator{apps: apps, tracker: tracker, explainer: explainer}
}

// Run executes one full pipeline run. The returned error is for the worker's
// log only; every failure has already been converted into the rejected
// terminal state before Run returns.
func (o *Orchestrator) Run(ctx context.Context, applicationID string) error {
	app, err := o.apps.Get(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("pipeline: load application %s: %w", applicationID, err)
	}

	state := stateNotStarted

	// Stage 1: document parser. Revalidates the structural shape of the
	// submission; a malformed record fails the run before any scoring.
	state = stateParsing
	parsed, err := o.runParse(ctx, app)
	if err != nil {
		return o.failRun(ctx, app.ID, state, err)
	}

	// Stage 2: credit scorer.
	state = stateScoring
	score, err := o.runScore(ctx, app.ID, parsed)
	if err != nil {
		return o.failRun(ctx, app.ID, state, err)
	}

	// Stage 3: risk assessor.
	state = stateAssessing
	tier, decision, err := o.runAssess(ctx, app.ID, score)
	if err != nil {
		return o.failRun(ctx, app.ID, state, err)
	}

	// Stage 4: decision explainer. The only suspension point: the external
	// text-generation call.
	state = stateExplaining
	explanation, err := o.runExplain(ctx, app, score, tier, decision)
	if err != nil {
		return o.failRun(ctx, app.ID, state, err)
	}

	state = stateDecided
	if err := o.apps.FinalizeDecision(ctx, application.FinalizeParams{
		ApplicationID: app.ID,
		Status:        application.DecisionStatus(decision),
		RiskTier:      tier,
		CreditScore:   score.CreditScore,
		FinalDecision: decision,
		Explanation:   explanation,
	}); err != nil {
		return fmt.Errorf("pipeline: finalize %s: %w", app.ID, err)
	}

	log.Printf("pipeline: application %s %s (score=%d tier=%s decision=%s)",
		app.ID, state, score.CreditScore, tier, decision)
	return nil
}

func (o *Orchestrator) runParse(ctx context.Context, app application.Application) (scoring.ScoreInput, error) {
	input := map[string]any{
		"full_name":           app.FullName,
		"employer_name":       app.EmployerName,
		"employment_status":   string(app.Employment),
		"employment_duration": string(app.Duration),
		"annual_income_cents": app.AnnualIncomeCents,
		"monthly_debt_cents":  app.MonthlyDebtCents,
		"loan_amount_cents":   app.LoanAmountCents,
	}
	stateID, err := o.tracker.Begin(ctx, app.ID, agentstate.StageDocumentParser, input)
	if err != nil {
		return scoring.ScoreInput{}, err
	}

	parsed, err := parseDocument(app)
	if err != nil {
		return scoring.ScoreInput{}, o.stageFailed(ctx, stateID, err)
	}

	output := map[string]any{
		"annual_income_cents": parsed.AnnualIncomeCents,
		"monthly_debt_cents":  parsed.MonthlyDebtCents,
		"loan_amount_cents":   parsed.LoanAmountCents,
		"employment_status":   string(parsed.Employment),
		"employment_duration": string(parsed.Duration),
	}
	if err := o.tracker.Complete(ctx, stateID, output); err != nil {
		return scoring.ScoreInput{}, err
	}
	return parsed, nil
}

func (o *Orchestrator) runScore(ctx context.Context, applicationID string, in scoring.ScoreInput) (scoring.ScoreResult, error) {
	input := map[string]any{
		"annual_income_cents": in.AnnualIncomeCents,
		"monthly_debt_cents":  in.MonthlyDebtCents,
		"loan_amount_cents":   in.LoanAmountCents,
		"employment_status":   string(in.Employment),
		"employment_duration": string(in.Duration),
	}
	stateID, err := o.tracker.Begin(ctx, applicationID, agentstate.StageCreditScorer, input)
	if err != nil {
		return scoring.ScoreResult{}, err
	}

	res := scoring.Score(in)

	output := map[string]any{
		"credit_score":            res.CreditScore,
		"dti":                     res.DTI,
		"estimated_payment_cents": res.EstimatedPaymentCents,
	}
	if err := o.tracker.Complete(ctx, stateID, output); err != nil {
		return scoring.ScoreResult{}, err
	}
	return res, nil
}

func (o *Orchestrator) runAssess(ctx context.Context, applicationID string, score scoring.ScoreResult) (scoring.RiskTier, scoring.Decision, error) {
	input := map[string]any{
		"credit_score": score.CreditScore,
		"dti":          score.DTI,
	}
	stateID, err := o.tracker.Begin(ctx, applicationID, agentstate.StageRiskAssessor, input)
	if err != nil {
		return "", "", err
	}

	tier, decision := scoring.Classify(score.CreditScore, score.DTI)

	output := map[string]any{
		"risk_tier": string(tier),
		"decision":  string(decision),
	}
	if err := o.tracker.Complete(ctx, stateID, output); err != nil {
		return "", "", err
	}
	return tier, decision, nil
}

func (o *Orchestrator) runExplain(ctx context.Context, app application.Application, score scoring.ScoreResult, tier scoring.RiskTier, decision scoring.Decision) (string, error) {
	input := map[string]any{
		"credit_score": score.CreditScore,
		"dti":          score.DTI,
		"risk_tier":    string(tier),
		"decision":     string(decision),
	}
	stateID, err := o.tracker.Begin(ctx, app.ID, agentstate.StageDecisionExplainer, input)
	if err != nil {
		return "", err
	}

	text, err := o.explainer.Explain(ctx, explain.Input{
		ApplicantName:     app.FullName,
		AnnualIncomeCents: app.AnnualIncomeCents,
		MonthlyDebtCents:  app.MonthlyDebtCents,
		LoanAmountCents:   app.LoanAmountCents,
		Duration:          app.Duration,
		Employment:        app.Employment,
		CreditScore:       score.CreditScore,
		DTI:               score.DTI,
		Tier:              tier,
		Decision:          decision,
	})
	if err != nil {
		return "", o.stageFailed(ctx, stateID, err)
	}

	if err := o.tracker.Complete(ctx, stateID, map[string]any{"explanation": text}); err != nil {
		return "", err
	}
	return text, nil
}

// stageFailed marks the state record failed and hands the original error back.
func (o *Orchestrator) stageFailed(ctx context.Context, stateID string, stageErr error) error {
	if err := o.tracker.Fail(ctx, stateID, stageErr); err != nil {
		log.Printf("pipeline: record stage failure %s: %v", stateID, err)
	}
	return stageErr
}

// failRun converts any stage error into the rejected terminal state.
func (o *Orchestrator) failRun(ctx context.Context, applicationID string, at runState, cause error) error {
	if err := o.apps.MarkFailed(ctx, applicationID); err != nil {
		log.Printf("pipeline: mark %s failed: %v", applicationID, err)
	}
	log.Printf("pipeline: application %s failed during %s: %v", applicationID, at, cause)
	return fmt.Errorf("pipeline: %s failed during %s: %w", applicationID, at, cause)
}

// parseDocument is the document-parser stage: it checks the structural shape
// of the stored submission and extracts the scoring input.
func parseDocument(app application.Application) (scoring.ScoreInput, error) {
	if app.FullName == "" || app.Email == "" {
		return scoring.ScoreInput{}, fmt.Errorf("pipeline: applicant identity missing")
	}
	if !scoring.ValidEmploymentStatus(app.Employment) {
		return scoring.ScoreInput{}, fmt.Errorf("pipeline: invalid employment status %q", app.Employment)
	}
	if !scoring.ValidDurationBucket(app.Duration) {
		return scoring.ScoreInput{}, fmt.Errorf("pipeline: invalid employment duration %q", app.Duration)
	}
	if app.AnnualIncomeCents < 0 || app.MonthlyDebtCents < 0 {
		return scoring.ScoreInput{}, fmt.Errorf("pipeline: negative financials")
	}
	if app.LoanAmountCents <= 0 {
		return scoring.ScoreInput{}, fmt.Errorf("pipeline: loan amount must be positive")
	}

	return scoring.ScoreInput{
		AnnualIncomeCents: app.AnnualIncomeCents,
		MonthlyDebtCents:  app.MonthlyDebtCents,
		LoanAmountCents:   app.LoanAmountCents,
		Duration:          app.Duration,
		Employment:        app.Employment,
	}, nil
}
