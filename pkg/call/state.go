package call

// Outer state of the call session. Screen sharing is a sub-state of a session that does not
// influence the transitions between these states, see `Manager.Sharing()`.
type State int

const (
	// Ready to start a new call: a fresh peer connection exists and no local media is captured.
	StateIdle State = iota
	// `StartCall` is waiting for the local media capture to complete.
	StateStarting
	// Local media is captured and attached to the peer connection.
	StateInCall
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateInCall:
		return "in-call"
	default:
		return "unknown"
	}
}

// Changes the state and returns a closure that informs the subscriber (if any) about the transition.
// Must be called with the mutex held, the returned closure must be called without it.
func (m *Manager) transitionLocked(to State) func() {
	from := m.state
	m.state = to

	if from == to {
		return func() {}
	}

	m.logger.WithField("from", from).WithField("to", to).Debug("call state changed")

	onStateChange := m.subscribers.onStateChange
	return func() {
		if onStateChange != nil {
			onStateChange(to)
		}
	}
}
