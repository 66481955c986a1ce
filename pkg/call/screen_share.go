package call

import (
	"context"
	"fmt"

	"github.com/moonly/moonly/pkg/media"
	"github.com/moonly/moonly/pkg/telemetry"
	"github.com/pion/webrtc/v3"
)

// Captures the display and sends it instead of the camera. The outgoing video sender (if any)
// gets its track replaced, so no renegotiation is needed; otherwise a new sender is added.
// A screen stream that is already shared gets replaced by the new one.
func (m *Manager) StartScreenShare(ctx context.Context) (*media.Stream, error) {
	span := telemetry.NewTelemetry(ctx, "StartScreenShare")
	defer span.End()

	screen, err := m.devices.DisplayMedia(span.Context())
	if err != nil {
		m.logger.WithError(err).Error("failed to capture display")
		return nil, span.Fail(fmt.Errorf("%w: %w", ErrCaptureFailed, err))
	}

	videoTracks := screen.VideoTracks()
	if len(videoTracks) == 0 {
		screen.Stop()
		return nil, span.Fail(fmt.Errorf("%w: %w", ErrCaptureFailed, media.ErrDeviceNotFound))
	}
	screenTrack := videoTracks[0]

	m.mutex.Lock()
	if m.peerConnection == nil {
		m.mutex.Unlock()
		screen.Stop()
		return nil, span.Fail(ErrNoPeerConnection)
	}

	if sender := m.videoSenderLocked(); sender != nil {
		if err := sender.ReplaceTrack(screenTrack.Local()); err != nil {
			m.mutex.Unlock()
			m.logger.WithError(err).Error("failed to replace video track with the screen")
			screen.Stop()
			return nil, span.Fail(fmt.Errorf("%w: %w", ErrCantReplaceTrack, err))
		}
		m.videoSender = sender
	} else {
		sender, err := m.peerConnection.AddTrack(screenTrack.Local())
		if err != nil {
			m.mutex.Unlock()
			m.logger.WithError(err).Error("failed to add screen track")
			screen.Stop()
			return nil, span.Fail(fmt.Errorf("%w: %w", ErrCantAddTrack, err))
		}
		m.videoSender = sender
	}

	previous := m.screenStream
	m.screenStream = screen
	onScreenStream := m.subscribers.onScreenStream
	m.mutex.Unlock()

	if previous != nil {
		previous.Stop()
	}

	m.logger.WithField("stream_id", screen.ID()).Info("screen sharing started")

	if onScreenStream != nil {
		onScreenStream(screen)
	}

	// The user may stop sharing using the controls of the platform rather than ours.
	screenTrack.OnEnded(func() {
		m.logger.WithField("stream_id", screen.ID()).Info("screen capture ended by the user")
		if err := m.stopScreenShare(screen); err != nil {
			m.logger.WithError(err).Error("failed to stop screen sharing")
		}
	})

	return screen, nil
}

// Stops sharing the screen and sends the camera again (if there is one). No-op if the screen
// is not shared.
func (m *Manager) StopScreenShare() error {
	return m.stopScreenShare(nil)
}

// Stops sharing of the given screen stream, or of any screen stream if `expected` is `nil`.
func (m *Manager) stopScreenShare(expected *media.Stream) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	screen := m.screenStream
	if screen == nil || (expected != nil && expected != screen) {
		return nil
	}

	screen.Stop()
	m.screenStream = nil

	sender := m.videoSender
	if sender == nil {
		return nil
	}

	// Without a camera the sender is left without a track until the next screen share.
	var camera webrtc.TrackLocal
	if m.localStream != nil {
		if videoTracks := m.localStream.VideoTracks(); len(videoTracks) > 0 {
			camera = videoTracks[0].Local()
		}
	}

	if err := sender.ReplaceTrack(camera); err != nil {
		m.logger.WithError(err).Error("failed to restore the camera track")
		return fmt.Errorf("%w: %w", ErrCantReplaceTrack, err)
	}

	m.logger.WithField("stream_id", screen.ID()).Info("screen sharing stopped")

	return nil
}
