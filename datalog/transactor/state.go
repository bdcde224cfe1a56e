package transactor

// State is the phase the writer loop is in
type State int32

const (
	StateIdle State = iota
	StateValidating
	StateApplying
	StatePublishing
	StateReindexing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateApplying:
		return "applying"
	case StatePublishing:
		return "publishing"
	case StateReindexing:
		return "reindexing"
	case StateFailed:
		return "failed"
	default:
		panic("unknown transactor state")
	}
}
