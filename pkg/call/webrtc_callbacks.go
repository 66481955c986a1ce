package call

import (
	"github.com/moonly/moonly/pkg/media"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// Registers the handlers of the peer connection events. Every handler is bound to the connection
// it was registered on, so that late events of a closed session are ignored.
func (m *Manager) registerCallbacks(peerConnection *webrtc.PeerConnection) {
	peerConnection.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.onRtpTrackReceived(peerConnection, track, receiver)
	})
	peerConnection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		m.onICECandidateGathered(peerConnection, candidate)
	})
	peerConnection.OnICEConnectionStateChange(m.onICEConnectionStateChanged)
	peerConnection.OnConnectionStateChange(m.onConnectionStateChanged)
	peerConnection.OnSignalingStateChange(m.onSignalingStateChanged)
}

// A callback that is called once we receive first RTP packets from a track, i.e.
// we call this function each time a new track is received.
func (m *Manager) onRtpTrackReceived(
	peerConnection *webrtc.PeerConnection,
	track *webrtc.TrackRemote,
	_ *webrtc.RTPReceiver,
) {
	logger := m.logger.WithFields(logrus.Fields{
		"track_id":  track.ID(),
		"stream_id": track.StreamID(),
		"kind":      track.Kind(),
	})

	if track.StreamID() == "" {
		logger.Warn("ignoring remote track that does not belong to any stream")
		return
	}

	// Ask the remote side for a key frame straight away, so that the video shows up quickly.
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := peerConnection.WriteRTCP(pli); err != nil {
			logger.WithError(err).Warn("failed to send PLI")
		}
	}

	logger.Info("remote track received")
	m.publishRemoteTrack(peerConnection, track.StreamID(), track)
}

// Adds the track to the remote stream and informs the subscriber. A track of another stream
// replaces the remote stream.
func (m *Manager) publishRemoteTrack(peerConnection *webrtc.PeerConnection, streamID string, track *webrtc.TrackRemote) {
	m.mutex.Lock()
	if m.peerConnection != peerConnection {
		m.mutex.Unlock()
		return
	}

	stream := m.remoteStream
	if stream == nil || stream.ID() != streamID {
		stream = media.NewRemoteStream(streamID)
		m.remoteStream = stream
	}
	stream.AddTrack(track)

	onRemoteStream := m.subscribers.onRemoteStream
	m.mutex.Unlock()

	if onRemoteStream != nil {
		onRemoteStream(stream)
	}
}

// A callback that is called once we receive an ICE candidate for this peer connection.
func (m *Manager) onICECandidateGathered(peerConnection *webrtc.PeerConnection, candidate *webrtc.ICECandidate) {
	if candidate == nil {
		m.logger.Debug("ICE candidate gathering finished")
		return
	}

	m.mutex.Lock()
	current := m.peerConnection == peerConnection
	onICECandidate := m.subscribers.onICECandidate
	m.mutex.Unlock()

	if !current {
		return
	}

	m.logger.WithField("candidate", candidate).Debug("ICE candidate gathered")

	if onICECandidate != nil {
		onICECandidate(candidate.ToJSON())
	}
}

func (m *Manager) onICEConnectionStateChanged(state webrtc.ICEConnectionState) {
	m.logger.WithField("state", state).Debug("ICE connection state changed")
}

func (m *Manager) onSignalingStateChanged(state webrtc.SignalingState) {
	m.logger.WithField("state", state).Debug("signaling state changed")
}

func (m *Manager) onConnectionStateChanged(state webrtc.PeerConnectionState) {
	m.logger.WithField("state", state).Info("connection state changed")
}
