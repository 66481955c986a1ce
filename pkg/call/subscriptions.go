package call

import (
	"github.com/moonly/moonly/pkg/media"
	"github.com/pion/webrtc/v3"
)

// Every subscription holds a single callback: registering a new one replaces the previous one,
// so only the latest registrant is notified.
type subscribers struct {
	onRemoteStream func(*media.RemoteStream)
	onScreenStream func(*media.Stream)
	onCallEnd      func()
	onICECandidate func(webrtc.ICECandidateInit)
	onStateChange  func(State)
}

// Called whenever a track of the remote party arrives, with the stream the track belongs to.
func (m *Manager) OnRemoteStream(callback func(*media.RemoteStream)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.subscribers.onRemoteStream = callback
}

// Called once screen sharing has started.
func (m *Manager) OnScreenStream(callback func(*media.Stream)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.subscribers.onScreenStream = callback
}

// Called when the call ends (before the manager becomes ready for the next call).
func (m *Manager) OnCallEnd(callback func()) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.subscribers.onCallEnd = callback
}

// Called for every local ICE candidate that has been gathered. The candidate must be relayed to
// the remote peer by the signaling layer, the manager does not transmit it.
func (m *Manager) OnICECandidate(callback func(webrtc.ICECandidateInit)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.subscribers.onICECandidate = callback
}

// Called on every transition of the outer call state.
func (m *Manager) OnStateChange(callback func(State)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.subscribers.onStateChange = callback
}
