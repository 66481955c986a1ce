package media

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

var (
	ErrCantCreateTrack = errors.New("can't create local track")
	ErrTrackStopped    = errors.New("track is stopped")
)

// A local media track (microphone, camera or screen) that can be attached to a peer connection.
// The track mirrors the semantics of a browser's `MediaStreamTrack`: it can be muted by toggling
// `enabled` without renegotiation, stopped explicitly by the application, or end on its own
// when the underlying source goes away.
type Track struct {
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool

	mutex   sync.Mutex
	stopped bool
	ended   bool
	onEnded func()
	done    chan struct{}
}

// Creates a new enabled track with the given codec. The stream ID is baked into the track and
// is what the remote side sees as the stream the track belongs to.
func NewTrack(codec webrtc.RTPCodecCapability, trackID, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, trackID, streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCantCreateTrack, err)
	}

	track := &Track{local: local, done: make(chan struct{})}
	track.enabled.Store(true)

	return track, nil
}

func (t *Track) ID() string {
	return t.local.ID()
}

func (t *Track) StreamID() string {
	return t.local.StreamID()
}

func (t *Track) Kind() webrtc.RTPCodecType {
	return t.local.Kind()
}

// Returns the underlying Pion track that is handed over to the peer connection.
func (t *Track) Local() webrtc.TrackLocal {
	return t.local
}

func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

// Mutes or unmutes the track. A disabled track silently drops all samples.
func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// Writes a sample to the track. Samples written to a disabled track are dropped.
func (t *Track) WriteSample(sample pionmedia.Sample) error {
	select {
	case <-t.done:
		return ErrTrackStopped
	default:
	}

	if !t.enabled.Load() {
		return nil
	}

	return t.local.WriteSample(sample)
}

// Stops the track on behalf of the application. Ended handlers are not called.
func (t *Track) Stop() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.stopped || t.ended {
		return
	}

	t.stopped = true
	close(t.done)
}

// Marks the track as ended by its source (e.g. the user stopped sharing their screen
// using the native controls of the platform). The ended handler is called once.
func (t *Track) End() {
	t.mutex.Lock()
	if t.stopped || t.ended {
		t.mutex.Unlock()
		return
	}

	t.ended = true
	close(t.done)
	onEnded := t.onEnded
	t.mutex.Unlock()

	if onEnded != nil {
		onEnded()
	}
}

// Registers a handler that is called when the track ends on its own. Only the latest handler
// is kept. If the track has already ended, the handler is called immediately.
func (t *Track) OnEnded(handler func()) {
	t.mutex.Lock()
	t.onEnded = handler
	ended := t.ended
	t.mutex.Unlock()

	if ended && handler != nil {
		handler()
	}
}

// Returns `true` once the track is stopped or ended.
func (t *Track) Stopped() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.stopped || t.ended
}

// A channel that is closed once the track is stopped or ended. Sources feeding the track
// are expected to stop writing once the channel is closed.
func (t *Track) Done() <-chan struct{} {
	return t.done
}
