package application

import (
	"time"

	"loanflow/scoring"
)

// Status is the lifecycle of a loan application.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusEscalated  Status = "escalated"
)

// Application mirrors the applications table. Money fields are integer cents
// so no value ever drifts through floating point. finalDecision is set exactly
// when status has left processing; the repository write paths enforce it.
type Application struct {
	ID              string
	ApplicantUserID string
	FullName        string
	Email           string
	EmployerName    string
	Employment      scoring.EmploymentStatus
	Duration        scoring.DurationBucket

	AnnualIncomeCents int64
	MonthlyDebtCents  int64
	LoanAmountCents   int64

	Status        Status
	RiskTier      *scoring.RiskTier
	CreditScore   *int
	FinalDecision *scoring.Decision
	Explanation   *string

	OverriddenBy   *string
	OverrideReason *string
	OverriddenAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubmitRequest contains the submission payload supplied by callers.
type SubmitRequest struct {
	ApplicantUserID    string `json:"applicant_user_id"`
	FullName           string `json:"full_name"`
	Email              string `json:"email"`
	EmployerName       string `json:"employer_name"`
	EmploymentStatus   string `json:"employment_status"`
	EmploymentDuration string `json:"employment_duration"`
	AnnualIncomeCents  int64  `json:"annual_income_cents"`
	MonthlyDebtCents   int64  `json:"monthly_debt_cents"`
	LoanAmountCents    int64  `json:"loan_amount_cents"`
}

// Filters narrows List queries for dashboard reads.
type Filters struct {
	ApplicantUserID string
	Status          Status
	Page            int
	PageSize        int
}

// FinalizeParams enumerates the decision fields written in one atomic update
// when a pipeline run completes.
type FinalizeParams struct {
	ApplicationID string
	Status        Status
	RiskTier      scoring.RiskTier
	CreditScore   int
	FinalDecision scoring.Decision
	Explanation   string
}

// FailureExplanation is the fixed applicant-facing text for a failed run. No
// internal error detail ever reaches the applicant.
const FailureExplanation = "We were unable to finish processing your application due to a technical problem. It has been declined automatically; please contact support or submit a new application."
