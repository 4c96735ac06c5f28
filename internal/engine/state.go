package engine

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// deriveState maps worker liveness and the stop flag onto a State.
func deriveState(alive, stopRequested bool) State {
	switch {
	case alive && !stopRequested:
		return StateRunning
	case alive:
		return StateStopping
	default:
		return StateIdle
	}
}
