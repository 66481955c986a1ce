package media

import (
	"context"
	"errors"
)

// Errors returned by capture devices. Callers are expected to surface them to the user.
var (
	ErrPermissionDenied    = errors.New("permission to capture denied")
	ErrDeviceNotFound      = errors.New("no capture device matches the constraints")
	ErrInvalidConstraints  = errors.New("at least one of audio or video must be requested")
	ErrCantOpenCaptureFile = errors.New("can't open capture source")
)

// Boolean capability request, there is no fine-grained device selection.
type Constraints struct {
	Audio bool
	Video bool
}

// Capture devices of the platform (microphone, camera and display).
type Devices interface {
	// Captures the microphone and/or the camera. Either a complete stream matching the
	// constraints is returned or an error, never a partial stream.
	UserMedia(ctx context.Context, constraints Constraints) (*Stream, error)
	// Captures the display. The returned stream contains a single video track which
	// ends on its own once the user stops sharing.
	DisplayMedia(ctx context.Context) (*Stream, error)
}
