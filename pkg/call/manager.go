package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/moonly/moonly/pkg/media"
	"github.com/moonly/moonly/pkg/telemetry"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/exp/slices"
)

var (
	ErrCantCreatePeerConnection = errors.New("can't create peer connection")
	ErrNoPeerConnection         = errors.New("peer connection is not initialized")
	ErrCaptureFailed            = errors.New("can't capture media")
	ErrCallPending              = errors.New("another call is being started")
	ErrCallEnded                = errors.New("call ended while it was being started")
	ErrCantAddTrack             = errors.New("can't add track")
	ErrCantReplaceTrack         = errors.New("can't replace track")
	ErrCantCreateOffer          = errors.New("can't create offer")
	ErrCantCreateAnswer         = errors.New("can't create answer")
	ErrCantSetLocalDescription  = errors.New("can't set local description")
	ErrCantSetRemoteDescription = errors.New("can't set remote description")
	ErrCantAddICECandidate      = errors.New("can't add ICE candidate")
)

// Something that creates pre-configured peer connections (see `webrtc_ext.PeerConnectionFactory`).
type PeerConnectionFactory interface {
	CreatePeerConnection() (*webrtc.PeerConnection, error)
}

// Call session manager: owns a single peer connection together with the local, remote and screen
// streams attached to it. The outside world drives the call by calling the public methods and gets
// informed about the things happening inside the session via the subscriptions.
//
// The manager does not transmit anything on its own: the session descriptions it creates and the
// ICE candidates it gathers must be relayed to the remote peer by the signaling layer.
type Manager struct {
	logger  *logrus.Entry
	factory PeerConnectionFactory
	devices media.Devices

	mutex          sync.Mutex
	state          State
	peerConnection *webrtc.PeerConnection
	// Incremented each time the session is torn down, so that in-flight operations
	// can find out that the session they started in is gone.
	generation   uint64
	audioSender  *webrtc.RTPSender
	videoSender  *webrtc.RTPSender
	localStream  *media.Stream
	remoteStream *media.RemoteStream
	screenStream *media.Stream
	subscribers  subscribers
}

// Creates a new manager that is immediately ready to start a call.
func NewManager(factory PeerConnectionFactory, devices media.Devices, logger *logrus.Entry) (*Manager, error) {
	m := &Manager{
		logger:  logger,
		factory: factory,
		devices: devices,
	}

	if err := m.enterIdle(); err != nil {
		return nil, err
	}

	return m, nil
}

// Captures local media and attaches it to the peer connection. The local stream is replaced
// wholesale on every call. Either the whole stream is captured or an error wrapping
// `ErrCaptureFailed` (and the device error) is returned.
func (m *Manager) StartCall(ctx context.Context, audio, video bool) (*media.Stream, error) {
	span := telemetry.NewTelemetry(ctx, "StartCall", attribute.Bool("audio", audio), attribute.Bool("video", video))
	defer span.End()

	m.mutex.Lock()
	if m.state == StateStarting {
		m.mutex.Unlock()
		m.logger.Warn("ignoring start of a call, another one is pending")
		return nil, span.Fail(ErrCallPending)
	}

	previous, generation := m.state, m.generation
	notify := m.transitionLocked(StateStarting)
	m.mutex.Unlock()
	notify()

	stream, err := m.devices.UserMedia(span.Context(), media.Constraints{Audio: audio, Video: video})
	if err != nil {
		m.logger.WithError(err).Error("failed to capture local media")
		m.restoreState(generation, previous)
		return nil, span.Fail(fmt.Errorf("%w: %w", ErrCaptureFailed, err))
	}

	span.AddEvent("local media captured", attribute.String("stream_id", stream.ID()))

	m.mutex.Lock()
	if m.generation != generation {
		m.mutex.Unlock()
		m.logger.Warn("call ended while capturing local media, discarding the stream")
		stream.Stop()
		return nil, span.Fail(ErrCallEnded)
	}

	if err := m.attachLocalStreamLocked(stream); err != nil {
		notify = m.transitionLocked(previous)
		m.mutex.Unlock()
		notify()
		stream.Stop()
		return nil, span.Fail(err)
	}

	notify = m.transitionLocked(StateInCall)
	m.mutex.Unlock()
	notify()

	m.logger.WithFields(logrus.Fields{
		"stream_id": stream.ID(),
		"audio":     len(stream.AudioTracks()),
		"video":     len(stream.VideoTracks()),
	}).Info("call started")

	return stream, nil
}

// Binds the tracks of a freshly captured stream to the peer connection, reusing the senders of
// the previous local stream (if any) so that a repeated `StartCall` does not pile up senders.
func (m *Manager) attachLocalStreamLocked(stream *media.Stream) error {
	if m.peerConnection == nil {
		return ErrNoPeerConnection
	}

	audioTracks, videoTracks := stream.AudioTracks(), stream.VideoTracks()

	previousAudioSender := m.audioSender
	var previousAudioTrack webrtc.TrackLocal
	if previousAudioSender != nil {
		previousAudioTrack = previousAudioSender.Track()
	}

	audioSender, err := m.bindTrackLocked(m.audioSender, audioTracks)
	if err != nil {
		return err
	}
	m.audioSender = audioSender

	// While sharing the screen, the video sender carries the screen track: the camera
	// takes over once the sharing is stopped.
	videoSender := m.videoSender
	if m.screenStream == nil || videoSender == nil {
		if videoSender, err = m.bindTrackLocked(m.videoSender, videoTracks); err != nil {
			// The previous stream stays in use, so its microphone must stay on the wire.
			m.audioSender = m.restoreSenderLocked(previousAudioSender, previousAudioTrack, audioSender)
			return err
		}
	}

	if m.localStream != nil {
		m.localStream.Stop()
	}

	m.localStream = stream
	m.videoSender = videoSender

	return nil
}

// Puts the tracks of a single kind on the outgoing leg. The first track goes to the existing sender
// (if any), the others get new senders. Without tracks, the existing sender is removed.
func (m *Manager) bindTrackLocked(sender *webrtc.RTPSender, tracks []*media.Track) (*webrtc.RTPSender, error) {
	if len(tracks) == 0 {
		if sender != nil {
			if err := m.peerConnection.RemoveTrack(sender); err != nil {
				m.logger.WithError(err).Warn("failed to remove outdated sender")
			}
		}
		return nil, nil
	}

	if sender != nil {
		if err := sender.ReplaceTrack(tracks[0].Local()); err != nil {
			m.logger.WithError(err).Error("failed to replace track")
			return nil, fmt.Errorf("%w: %w", ErrCantReplaceTrack, err)
		}
	} else {
		added, err := m.peerConnection.AddTrack(tracks[0].Local())
		if err != nil {
			m.logger.WithError(err).Error("failed to add track")
			return nil, fmt.Errorf("%w: %w", ErrCantAddTrack, err)
		}
		sender = added
	}

	for _, track := range tracks[1:] {
		if _, err := m.peerConnection.AddTrack(track.Local()); err != nil {
			m.logger.WithError(err).Error("failed to add track")
			return nil, fmt.Errorf("%w: %w", ErrCantAddTrack, err)
		}
	}

	return sender, nil
}

// Undoes `bindTrackLocked` for a single kind: puts the previous track back on the sender it was
// replaced on, or on a new one if its sender was removed. Returns the sender that carries it.
func (m *Manager) restoreSenderLocked(
	previous *webrtc.RTPSender,
	previousTrack webrtc.TrackLocal,
	current *webrtc.RTPSender,
) *webrtc.RTPSender {
	switch {
	case current != nil && previous == current:
		if err := current.ReplaceTrack(previousTrack); err != nil {
			m.logger.WithError(err).Error("failed to restore the previous track")
		}
		return current
	case current != nil:
		if err := m.peerConnection.RemoveTrack(current); err != nil {
			m.logger.WithError(err).Warn("failed to remove the new sender")
		}
	}

	if previous == nil || previousTrack == nil {
		return nil
	}

	restored, err := m.peerConnection.AddTrack(previousTrack)
	if err != nil {
		m.logger.WithError(err).Error("failed to restore the previous track")
		return nil
	}

	return restored
}

// Returns the state a failed `StartCall` came from, unless the session changed in the meantime.
func (m *Manager) restoreState(generation uint64, previous State) {
	m.mutex.Lock()
	if m.generation != generation || m.state != StateStarting {
		m.mutex.Unlock()
		return
	}

	notify := m.transitionLocked(previous)
	m.mutex.Unlock()
	notify()
}

// Mutes or unmutes every local audio track. No renegotiation takes place.
func (m *Manager) ToggleAudio(enabled bool) {
	if stream := m.LocalStream(); stream != nil {
		for _, track := range stream.AudioTracks() {
			track.SetEnabled(enabled)
		}
	}
}

// Enables or disables every local video track. No renegotiation takes place.
func (m *Manager) ToggleVideo(enabled bool) {
	if stream := m.LocalStream(); stream != nil {
		for _, track := range stream.VideoTracks() {
			track.SetEnabled(enabled)
		}
	}
}

// Ends the call: releases all local media, closes the peer connection, informs the subscriber and
// gets ready for the next call. Safe to call at any time, any number of times. The returned error
// is only set if no new peer connection could be created.
func (m *Manager) EndCall() error {
	m.teardown()
	m.logger.Info("call ended")

	m.mutex.Lock()
	onCallEnd := m.subscribers.onCallEnd
	m.mutex.Unlock()

	if onCallEnd != nil {
		onCallEnd()
	}

	return m.enterIdle()
}

// Releases all resources for good. Unlike `EndCall`, the manager is not usable afterwards.
func (m *Manager) Close() {
	m.teardown()
}

// Stops all local media and closes the peer connection. Safe to call multiple times.
func (m *Manager) teardown() {
	m.mutex.Lock()
	peerConnection := m.peerConnection
	localStream, screenStream := m.localStream, m.screenStream

	m.peerConnection = nil
	m.generation++
	m.audioSender, m.videoSender = nil, nil
	m.localStream, m.remoteStream, m.screenStream = nil, nil, nil
	m.mutex.Unlock()

	if localStream != nil {
		localStream.Stop()
	}

	if screenStream != nil {
		screenStream.Stop()
	}

	if peerConnection != nil {
		if err := peerConnection.Close(); err != nil {
			m.logger.WithError(err).Error("failed to close peer connection")
		}
	}
}

// Entry action of the idle state: every session starts with a fresh peer connection.
func (m *Manager) enterIdle() error {
	peerConnection, err := m.factory.CreatePeerConnection()

	m.mutex.Lock()
	if err == nil {
		m.peerConnection = peerConnection
		m.registerCallbacks(peerConnection)
	}
	notify := m.transitionLocked(StateIdle)
	m.mutex.Unlock()
	notify()

	if err != nil {
		m.logger.WithError(err).Error("failed to create peer connection")
		return fmt.Errorf("%w: %w", ErrCantCreatePeerConnection, err)
	}

	return nil
}

func (m *Manager) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.state
}

// Returns `true` while the screen is being shared.
func (m *Manager) Sharing() bool {
	return m.ScreenStream() != nil
}

// Returns the local stream or `nil` if there is none.
func (m *Manager) LocalStream() *media.Stream {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.localStream
}

// Returns the stream of the remote party or `nil` if there is none.
func (m *Manager) RemoteStream() *media.RemoteStream {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.remoteStream
}

// Returns the screen stream or `nil` if the screen is not shared.
func (m *Manager) ScreenStream() *media.Stream {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.screenStream
}

func (m *Manager) connection() (*webrtc.PeerConnection, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.peerConnection == nil {
		return nil, ErrNoPeerConnection
	}

	return m.peerConnection, nil
}

// The outgoing video sender: the one we remember or the first sender carrying a video track.
func (m *Manager) videoSenderLocked() *webrtc.RTPSender {
	if m.videoSender != nil {
		return m.videoSender
	}

	senders := m.peerConnection.GetSenders()
	index := slices.IndexFunc(senders, func(sender *webrtc.RTPSender) bool {
		track := sender.Track()
		return track != nil && track.Kind() == webrtc.RTPCodecTypeVideo
	})
	if index < 0 {
		return nil
	}

	return senders[index]
}
