package pipeline

type State int32

const (
	StateIdle State = iota
	StateVerifying
	StateBinding
	StateConsuming
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateVerifying:
		return "verifying"
	case StateBinding:
		return "binding"
	case StateConsuming:
		return "consuming"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
