package room

// State is the session's connection state.
//
//	Idle -> Connecting -> Joined -> Closing -> Connecting ...
//	any  -> Terminated
type State int32

const (
	Idle State = iota
	Connecting
	Joined
	Closing
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Closing:
		return "closing"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
