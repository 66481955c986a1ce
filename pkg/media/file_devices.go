package media

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// Capture devices that play media files in real time instead of capturing hardware.
// Used by headless clients (bots, load tests) that take part in calls.
type FileDevices struct {
	config FileDevicesConfig
	logger *logrus.Entry
}

func NewFileDevices(config FileDevicesConfig, logger *logrus.Entry) *FileDevices {
	return &FileDevices{config: config, logger: logger}
}

func (d *FileDevices) UserMedia(ctx context.Context, constraints Constraints) (*Stream, error) {
	if !constraints.Audio && !constraints.Video {
		return nil, ErrInvalidConstraints
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Check everything up-front, so that we never hand out a partial stream.
	if constraints.Audio {
		if err := checkDevice("microphone", d.config.Deny.Microphone, d.config.Microphone); err != nil {
			return nil, err
		}
	}
	if constraints.Video {
		if err := checkDevice("camera", d.config.Deny.Camera, d.config.Camera); err != nil {
			return nil, err
		}
	}

	streamID := uuid.NewString()
	var captures []*capture

	if constraints.Audio {
		source, err := openOggSource(d.config.Microphone)
		if err != nil {
			return nil, err
		}
		captures = append(captures, &capture{source: source, loop: true})
	}

	if constraints.Video {
		source, err := openIVFSource(d.config.Camera)
		if err != nil {
			closeCaptures(captures)
			return nil, err
		}
		captures = append(captures, &capture{source: source, loop: true})
	}

	return d.startCaptures(streamID, captures)
}

func (d *FileDevices) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := checkDevice("display", d.config.Deny.Display, d.config.Display); err != nil {
		return nil, err
	}

	source, err := openIVFSource(d.config.Display)
	if err != nil {
		return nil, err
	}

	return d.startCaptures(uuid.NewString(), []*capture{{source: source, loop: false}})
}

func (d *FileDevices) startCaptures(streamID string, captures []*capture) (*Stream, error) {
	tracks := make([]*Track, 0, len(captures))
	for _, c := range captures {
		codec := c.source.codec()
		trackID := fmt.Sprintf("%s-%s", kindOf(codec), uuid.NewString())

		track, err := NewTrack(codec, trackID, streamID)
		if err != nil {
			closeCaptures(captures)
			return nil, err
		}

		c.track = track
		tracks = append(tracks, track)
	}

	for _, c := range captures {
		logger := d.logger.WithFields(logrus.Fields{
			"stream_id": streamID,
			"track_id":  c.track.ID(),
		})
		go c.run(logger)
	}

	d.logger.WithField("stream_id", streamID).Debug("capture started")

	return NewStream(streamID, tracks...), nil
}

func checkDevice(name string, denied bool, path string) error {
	if denied {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, name)
	}

	if path == "" {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}

	return nil
}

func kindOf(codec webrtc.RTPCodecCapability) string {
	if codec.MimeType == webrtc.MimeTypeOpus {
		return "audio"
	}

	return "video"
}

func closeCaptures(captures []*capture) {
	for _, c := range captures {
		c.source.close()
	}
}
