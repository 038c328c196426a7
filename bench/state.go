package bench

// State is the lifecycle of a Runner:
// Stopped -> Starting -> Started -> Stopping -> Stopped.
type State int32

const (
	Stopped State = iota
	Starting
	Started
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}
