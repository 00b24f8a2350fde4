package explain

import (
	"context"
	"fmt"
	"strings"

	"loanflow/scoring"
)

// TextGenerator is the narrow boundary to the external text-generation
// service: prompt in, text out, fallible. Tests stub it deterministically.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Input carries everything the explanation prompt embeds.
type Input struct {
	ApplicantName     string
	AnnualIncomeCents int64
	MonthlyDebtCents  int64
	LoanAmountCents   int64
	Duration          scoring.DurationBucket
	Employment        scoring.EmploymentStatus
	CreditScore       int
	DTI               float64
	Tier              scoring.RiskTier
	Decision          scoring.Decision
}

// Generator builds decision explanations. It performs no scoring of its own;
// it formats a prompt from already-computed results and delegates the prose to
// the external service.
type Generator struct {
	textgen TextGenerator
}

// NewGenerator wires a Generator over the given text-generation client.
func NewGenerator(textgen TextGenerator) *Generator {
	return &Generator{textgen: textgen}
}

// Explain produces a short plain-language explanation for the decision. A
// service failure is returned as-is so the caller treats it as a stage
// failure; an empty completion is also an error, never a silent blank.
func (g *Generator) Explain(ctx context.Context, in Input) (string, error) {
	text, err := g.textgen.GenerateText(ctx, BuildPrompt(in))
	if err != nil {
		return "", fmt.Errorf("explain: generate: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("explain: empty completion from text service")
	}
	return text, nil
}

// BuildPrompt renders the deterministic prompt for one decision. Identical
// inputs always produce byte-identical prompts.
func BuildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("You are writing a decision notice for a loan applicant.\n")
	b.WriteString("Write 2-3 plain-language sentences explaining the outcome below.\n")
	b.WriteString("Be factual and non-discriminatory. Reference only the financial figures given. Do not mention internal scoring mechanics beyond the stated score and ratio.\n\n")
	fmt.Fprintf(&b, "Applicant: %s\n", in.ApplicantName)
	fmt.Fprintf(&b, "Annual income: $%s\n", centsToDollars(in.AnnualIncomeCents))
	fmt.Fprintf(&b, "Existing monthly debt: $%s\n", centsToDollars(in.MonthlyDebtCents))
	fmt.Fprintf(&b, "Requested loan amount: $%s\n", centsToDollars(in.LoanAmountCents))
	fmt.Fprintf(&b, "Employment: %s (%s)\n", in.Employment, in.Duration)
	fmt.Fprintf(&b, "Credit score: %d\n", in.CreditScore)
	fmt.Fprintf(&b, "Debt-to-income ratio: %.3f\n", in.DTI)
	fmt.Fprintf(&b, "Risk tier: %s\n", in.Tier)
	fmt.Fprintf(&b, "Decision: %s\n", in.Decision)
	return b.String()
}

func centsToDollars(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
