package scoring

import "math"

// EmploymentStatus enumerates the employment situations an applicant can declare.
type EmploymentStatus string

const (
	EmploymentFullTime     EmploymentStatus = "full_time"
	EmploymentPartTime     EmploymentStatus = "part_time"
	EmploymentSelfEmployed EmploymentStatus = "self_employed"
	EmploymentUnemployed   EmploymentStatus = "unemployed"
	EmploymentRetired      EmploymentStatus = "retired"
)

// DurationBucket enumerates the coarse employment-duration buckets collected at
// submission time.
type DurationBucket string

const (
	DurationUnderOneYear DurationBucket = "<1y"
	DurationOneToThree   DurationBucket = "1-3y"
	DurationThreeToFive  DurationBucket = "3-5y"
	DurationFivePlus     DurationBucket = "5+y"
)

// Policy constants. These are load-bearing for compatibility with decisions
// already on record: do not tune them without a migration plan.
const (
	baseScore = 650

	MinCreditScore = 300
	MaxCreditScore = 850

	// paymentRate approximates the monthly payment on a new loan as a flat
	// fraction of the principal.
	paymentRate = 0.008

	// maxDTI stands in for the ratio when monthly income is zero or negative,
	// so callers never divide by a non-positive income.
	maxDTI = 1.0
)

// ScoreInput carries the applicant financials consumed by Score. All money
// amounts are integer cents.
type ScoreInput struct {
	AnnualIncomeCents int64
	MonthlyDebtCents  int64
	LoanAmountCents   int64
	Duration          DurationBucket
	Employment        EmploymentStatus
}

// ScoreResult is the outcome of one deterministic scoring pass.
type ScoreResult struct {
	CreditScore           int
	DTI                   float64
	EstimatedPaymentCents int64
}

// EstimateMonthlyPaymentCents returns the payment proxy for a new loan of the
// given principal. It is the single home of the paymentRate formula; both the
// scoring pass and any affordability simulation must go through it.
func EstimateMonthlyPaymentCents(loanAmountCents int64) int64 {
	return int64(math.Round(float64(loanAmountCents) * paymentRate))
}

// DebtToIncome computes the applicant's debt-to-income ratio including the
// estimated payment on the requested loan. A non-positive monthly income yields
// maxDTI rather than a division.
func DebtToIncome(annualIncomeCents, monthlyDebtCents, loanAmountCents int64) float64 {
	monthlyIncome := float64(annualIncomeCents) / 12
	if monthlyIncome <= 0 {
		return maxDTI
	}
	totalDebt := float64(monthlyDebtCents + EstimateMonthlyPaymentCents(loanAmountCents))
	return totalDebt / monthlyIncome
}

// Score derives a credit score and DTI ratio from applicant financials. It is a
// pure function: no randomness, no I/O, identical inputs always produce
// identical outputs.
func Score(in ScoreInput) ScoreResult {
	score := float64(baseScore)

	switch {
	case in.AnnualIncomeCents > 100_000_00:
		score += 100
	case in.AnnualIncomeCents > 75_000_00:
		score += 70
	case in.AnnualIncomeCents > 50_000_00:
		score += 40
	}

	switch in.Duration {
	case DurationOneToThree:
		score += 40
	case DurationThreeToFive:
		score += 60
	case DurationFivePlus:
		score += 80
	}

	switch in.Employment {
	case EmploymentFullTime:
		score += 30
	case EmploymentSelfEmployed:
		score += 15
	}

	dti := DebtToIncome(in.AnnualIncomeCents, in.MonthlyDebtCents, in.LoanAmountCents)
	switch {
	case dti < 0.2:
		score += 50
	case dti < 0.35:
		score += 20
	case dti > 0.5:
		score -= 50
	}

	rounded := int(math.Round(score))
	if rounded < MinCreditScore {
		rounded = MinCreditScore
	}
	if rounded > MaxCreditScore {
		rounded = MaxCreditScore
	}

	return ScoreResult{
		CreditScore:           rounded,
		DTI:                   dti,
		EstimatedPaymentCents: EstimateMonthlyPaymentCents(in.LoanAmountCents),
	}
}

// ValidEmploymentStatus reports whether s is one of the accepted statuses.
func ValidEmploymentStatus(s EmploymentStatus) bool {
	switch s {
	case EmploymentFullTime, EmploymentPartTime, EmploymentSelfEmployed, EmploymentUnemployed, EmploymentRetired:
		return true
	default:
		return false
	}
}

// ValidDurationBucket reports whether d is one of the accepted buckets.
func ValidDurationBucket(d DurationBucket) bool {
	switch d {
	case DurationUnderOneYear, DurationOneToThree, DurationThreeToFive, DurationFivePlus:
		return true
	default:
		return false
	}
}
