package scoring

// RiskTier buckets an application for downstream policy.
type RiskTier string

const (
	TierLow    RiskTier = "low"
	TierMedium RiskTier = "medium"
	TierHigh   RiskTier = "high"
)

// Decision is the provisional outcome attached to a risk tier.
type Decision string

const (
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
	DecisionEscalated Decision = "escalated"
)

// Classify maps a credit score and DTI ratio to a risk tier and provisional
// decision. Rules are evaluated in priority order, first match wins. The
// comparisons are deliberately strict (< 0.35, > 0.5): a DTI of exactly 0.35
// is not low risk, and exactly 0.5 is not high risk on DTI alone.
func Classify(score int, dti float64) (RiskTier, Decision) {
	switch {
	case score >= 750 && dti < 0.35:
		return TierLow, DecisionApproved
	case score <= 550 || dti > 0.5:
		return TierHigh, DecisionRejected
	default:
		return TierMedium, DecisionEscalated
	}
}
