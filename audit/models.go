package audit

import "time"

// Action tags the kind of state-changing event an entry records.
type Action string

const (
	ActionApplicationSubmitted Action = "application_submitted"
	ActionAgentStarted         Action = "agent_started"
	ActionAgentCompleted       Action = "agent_completed"
	ActionAgentFailed          Action = "agent_failed"
	ActionDecisionMade         Action = "decision_made"
	ActionOverrideApplied      Action = "override_applied"
)

// Entry is one immutable audit record. Entries are only ever appended; nothing
// in this package (or the schema) can update or delete one.
type Entry struct {
	ID            string
	ApplicationID *string
	ActorID       *string
	Action        Action
	Stage         *string
	Details       map[string]any
	CreatedAt     time.Time
}
