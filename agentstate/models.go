package agentstate

import "time"

// Stage names one of the four pipeline steps, in execution order.
type Stage string

const (
	StageDocumentParser    Stage = "document_parser"
	StageCreditScorer      Stage = "credit_scorer"
	StageRiskAssessor      Stage = "risk_assessor"
	StageDecisionExplainer Stage = "decision_explainer"
)

// Stages lists the pipeline stages in the order they run.
var Stages = []Stage{StageDocumentParser, StageCreditScorer, StageRiskAssessor, StageDecisionExplainer}

// Status is the lifecycle of one stage execution attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// State mirrors one row of the agent_states table: a single execution attempt
// of one stage for one application. Output is only populated on completion;
// failures carry their detail in ErrorDetail instead.
type State struct {
	ID            string
	ApplicationID string
	Stage         Stage
	Status        Status
	Input         []byte
	Output        []byte
	ErrorDetail   *string
	StartedAt     time.Time
	CompletedAt   *time.Time
}
