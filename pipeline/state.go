package pipeline

// runState is the explicit state machine of one pipeline run. It is internal
// bookkeeping: only the terminal outcome is persisted onto the application.
type runState int

const (
	stateNotStarted runState = iota
	stateParsing
	stateScoring
	stateAssessing
	stateExplaining
	stateDecided
	stateFailed
)

func (s runState) String() string {
	switch s {
	case stateNotStarted:
		return "not_started"
	case stateParsing:
		return "parsing"
	case stateScoring:
		return "scoring"
	case stateAssessing:
		return "assessing"
	case stateExplaining:
		return "explaining"
	case stateDecided:
		return "decided"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
