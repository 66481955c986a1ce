package call

import (
	"context"
	"testing"
	"time"

	"github.com/moonly/moonly/pkg/media"
	"github.com/moonly/moonly/pkg/media/mediatest"
	"github.com/moonly/moonly/pkg/webrtc_ext"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, devices media.Devices) *Manager {
	t.Helper()

	factory, err := webrtc_ext.NewPeerConnectionFactory(webrtc_ext.Config{})
	require.NoError(t, err)

	manager, err := NewManager(factory, devices, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	return manager
}

// Senders of the current peer connection that carry a video track.
func videoSenders(m *Manager) []*webrtc.RTPSender {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var senders []*webrtc.RTPSender
	for _, sender := range m.peerConnection.GetSenders() {
		if track := sender.Track(); track != nil && track.Kind() == webrtc.RTPCodecTypeVideo {
			senders = append(senders, sender)
		}
	}

	return senders
}

func TestScreenShare_RoundTripRestoresCamera(t *testing.T) {
	manager := newTestManager(t, mediatest.NewDevices())

	local, err := manager.StartCall(context.Background(), true, true)
	require.NoError(t, err)
	camera := local.VideoTracks()[0]

	screen, err := manager.StartScreenShare(context.Background())
	require.NoError(t, err)
	assert.True(t, manager.Sharing())

	senders := videoSenders(manager)
	require.Len(t, senders, 1)
	assert.Equal(t, screen.VideoTracks()[0].Local(), senders[0].Track())

	// The camera stays in the local stream while the screen is shared.
	assert.Equal(t, []*media.Track{camera}, manager.LocalStream().VideoTracks())
	assert.False(t, camera.Stopped())

	require.NoError(t, manager.StopScreenShare())

	senders = videoSenders(manager)
	require.Len(t, senders, 1)
	assert.Equal(t, camera.Local(), senders[0].Track())
	for _, track := range screen.Tracks() {
		assert.True(t, track.Stopped())
	}
	assert.Nil(t, manager.ScreenStream())
	assert.Equal(t, StateInCall, manager.State())
}

func TestScreenShare_RepeatedStartReplaces(t *testing.T) {
	manager := newTestManager(t, mediatest.NewDevices())

	_, err := manager.StartCall(context.Background(), true, true)
	require.NoError(t, err)

	first, err := manager.StartScreenShare(context.Background())
	require.NoError(t, err)
	second, err := manager.StartScreenShare(context.Background())
	require.NoError(t, err)

	senders := videoSenders(manager)
	require.Len(t, senders, 1)
	assert.Equal(t, second.VideoTracks()[0].Local(), senders[0].Track())
	assert.True(t, first.VideoTracks()[0].Stopped())
	assert.Same(t, second, manager.ScreenStream())
}

func TestScreenShare_WithoutCamera(t *testing.T) {
	manager := newTestManager(t, mediatest.NewDevices())

	_, err := manager.StartCall(context.Background(), true, false)
	require.NoError(t, err)
	assert.Empty(t, videoSenders(manager))

	screen, err := manager.StartScreenShare(context.Background())
	require.NoError(t, err)

	senders := videoSenders(manager)
	require.Len(t, senders, 1)
	assert.Equal(t, screen.VideoTracks()[0].Local(), senders[0].Track())
	sender := senders[0]

	require.NoError(t, manager.StopScreenShare())
	assert.Empty(t, videoSenders(manager))

	// The sender is reused by the next screen share.
	_, err = manager.StartScreenShare(context.Background())
	require.NoError(t, err)

	senders = videoSenders(manager)
	require.Len(t, senders, 1)
	assert.Same(t, sender, senders[0])
}

func TestScreenShare_EndedByPlatform(t *testing.T) {
	manager := newTestManager(t, mediatest.NewDevices())

	local, err := manager.StartCall(context.Background(), false, true)
	require.NoError(t, err)

	screen, err := manager.StartScreenShare(context.Background())
	require.NoError(t, err)

	screen.VideoTracks()[0].End()

	require.Eventually(t, func() bool { return manager.ScreenStream() == nil }, time.Second, time.Millisecond)

	senders := videoSenders(manager)
	require.Len(t, senders, 1)
	assert.Equal(t, local.VideoTracks()[0].Local(), senders[0].Track())
}

func TestScreenShare_EndOfReplacedStreamIsIgnored(t *testing.T) {
	manager := newTestManager(t, mediatest.NewDevices())

	first, err := manager.StartScreenShare(context.Background())
	require.NoError(t, err)
	second, err := manager.StartScreenShare(context.Background())
	require.NoError(t, err)

	// Already stopped by the replacement, ending it must not affect the current share.
	first.VideoTracks()[0].End()

	assert.Same(t, second, manager.ScreenStream())
}

func TestScreenShare_StopWithoutShareIsNoop(t *testing.T) {
	manager := newTestManager(t, mediatest.NewDevices())

	assert.NoError(t, manager.StopScreenShare())
	assert.NoError(t, manager.StopScreenShare())
}

func TestScreenShare_Denied(t *testing.T) {
	devices := mediatest.NewDevices()
	devices.Deny.Display = true
	manager := newTestManager(t, devices)

	_, err := manager.StartScreenShare(context.Background())
	assert.ErrorIs(t, err, ErrCaptureFailed)
	assert.ErrorIs(t, err, media.ErrPermissionDenied)
	assert.False(t, manager.Sharing())
}

func TestScreenShare_LatestSubscriberWins(t *testing.T) {
	manager := newTestManager(t, mediatest.NewDevices())

	var first, second *media.Stream
	manager.OnScreenStream(func(stream *media.Stream) { first = stream })
	manager.OnScreenStream(func(stream *media.Stream) { second = stream })

	screen, err := manager.StartScreenShare(context.Background())
	require.NoError(t, err)

	assert.Nil(t, first)
	assert.Same(t, screen, second)
}

func TestStartCall_DroppingVideoRemovesSender(t *testing.T) {
	manager := newTestManager(t, mediatest.NewDevices())

	_, err := manager.StartCall(context.Background(), true, true)
	require.NoError(t, err)
	require.Len(t, videoSenders(manager), 1)

	_, err = manager.StartCall(context.Background(), true, false)
	require.NoError(t, err)
	assert.Empty(t, videoSenders(manager))

	_, err = manager.StartCall(context.Background(), true, true)
	require.NoError(t, err)
	assert.Len(t, videoSenders(manager), 1)
}

func TestStartCall_FailedVideoKeepsPreviousAudio(t *testing.T) {
	manager := newTestManager(t, mediatest.NewDevices())

	previous, err := manager.StartCall(context.Background(), true, false)
	require.NoError(t, err)
	microphone := previous.AudioTracks()[0].Local()

	// Adding the camera fails on a closed connection, replacing the microphone does not.
	manager.mutex.Lock()
	require.NoError(t, manager.peerConnection.Close())
	manager.mutex.Unlock()

	_, err = manager.StartCall(context.Background(), true, true)
	require.ErrorIs(t, err, ErrCantAddTrack)

	assert.Same(t, previous, manager.LocalStream())
	assert.Equal(t, StateInCall, manager.State())

	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	require.NotNil(t, manager.audioSender)
	assert.Equal(t, microphone, manager.audioSender.Track())
	assert.Nil(t, manager.videoSender)
}
