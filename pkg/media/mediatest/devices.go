// Package mediatest provides in-memory capture devices for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/moonly/moonly/pkg/media"
	"github.com/pion/webrtc/v3"
)

var (
	opus = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// Capture devices that produce tracks without any source behind them.
type Devices struct {
	// Capture requests that fail with `media.ErrPermissionDenied`.
	Deny media.Permissions
	// When set, `UserMedia` blocks until the channel is closed (or the context is done).
	Block chan struct{}

	mutex   sync.Mutex
	counter int
	streams []*media.Stream
}

func NewDevices() *Devices {
	return &Devices{}
}

func (d *Devices) UserMedia(ctx context.Context, constraints media.Constraints) (*media.Stream, error) {
	if !constraints.Audio && !constraints.Video {
		return nil, media.ErrInvalidConstraints
	}

	if d.Block != nil {
		select {
		case <-d.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if constraints.Audio && d.Deny.Microphone {
		return nil, fmt.Errorf("%w: microphone", media.ErrPermissionDenied)
	}
	if constraints.Video && d.Deny.Camera {
		return nil, fmt.Errorf("%w: camera", media.ErrPermissionDenied)
	}

	streamID := d.nextID("stream")

	var tracks []*media.Track
	if constraints.Audio {
		track, err := media.NewTrack(opus, d.nextID("audio"), streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	if constraints.Video {
		track, err := media.NewTrack(vp8, d.nextID("video"), streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	return d.remember(media.NewStream(streamID, tracks...)), nil
}

func (d *Devices) DisplayMedia(ctx context.Context) (*media.Stream, error) {
	if d.Deny.Display {
		return nil, fmt.Errorf("%w: display", media.ErrPermissionDenied)
	}

	streamID := d.nextID("screen")
	track, err := media.NewTrack(vp8, d.nextID("screen-video"), streamID)
	if err != nil {
		return nil, err
	}

	return d.remember(media.NewStream(streamID, track)), nil
}

// Every stream handed out so far, in order.
func (d *Devices) Streams() []*media.Stream {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]*media.Stream(nil), d.streams...)
}

func (d *Devices) nextID(prefix string) string {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.counter++
	return fmt.Sprintf("%s-%d", prefix, d.counter)
}

func (d *Devices) remember(stream *media.Stream) *media.Stream {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.streams = append(d.streams, stream)
	return stream
}
