package pairing

// State is a pairing side's progress.
type State int

const (
	Idle State = iota
	AwaitingToken
	Paired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingToken:
		return "awaiting-token"
	case Paired:
		return "paired"
	default:
		return "unknown"
	}
}
