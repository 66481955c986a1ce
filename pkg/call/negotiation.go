package call

import (
	"context"
	"fmt"

	"github.com/moonly/moonly/pkg/telemetry"
	"github.com/pion/webrtc/v3"
	"go.opentelemetry.io/otel/attribute"
)

// Creates an SDP offer, applies it as the local description and returns it, so that
// it can be sent to the remote peer.
func (m *Manager) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	span := telemetry.NewTelemetry(ctx, "CreateOffer")
	defer span.End()

	peerConnection, err := m.connection()
	if err != nil {
		return nil, span.Fail(err)
	}

	offer, err := peerConnection.CreateOffer(nil)
	if err != nil {
		m.logger.WithError(err).Error("failed to create offer")
		return nil, span.Fail(fmt.Errorf("%w: %w", ErrCantCreateOffer, err))
	}

	if err := peerConnection.SetLocalDescription(offer); err != nil {
		m.logger.WithError(err).Error("failed to set local description")
		return nil, span.Fail(fmt.Errorf("%w: %w", ErrCantSetLocalDescription, err))
	}

	return &offer, nil
}

// Creates an SDP answer to the previously applied remote offer, applies it as the local
// description and returns it, so that it can be sent to the remote peer.
func (m *Manager) CreateAnswer(ctx context.Context) (*webrtc.SessionDescription, error) {
	span := telemetry.NewTelemetry(ctx, "CreateAnswer")
	defer span.End()

	peerConnection, err := m.connection()
	if err != nil {
		return nil, span.Fail(err)
	}

	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		m.logger.WithError(err).Error("failed to create answer")
		return nil, span.Fail(fmt.Errorf("%w: %w", ErrCantCreateAnswer, err))
	}

	if err := peerConnection.SetLocalDescription(answer); err != nil {
		m.logger.WithError(err).Error("failed to set local description")
		return nil, span.Fail(fmt.Errorf("%w: %w", ErrCantSetLocalDescription, err))
	}

	return &answer, nil
}

// Applies the description (offer or answer) received from the remote peer. The caller is
// responsible for the order: an answer is only valid after a local offer has been created.
func (m *Manager) SetRemoteDescription(ctx context.Context, description webrtc.SessionDescription) error {
	span := telemetry.NewTelemetry(ctx, "SetRemoteDescription", attribute.String("type", description.Type.String()))
	defer span.End()

	peerConnection, err := m.connection()
	if err != nil {
		return span.Fail(err)
	}

	if err := peerConnection.SetRemoteDescription(description); err != nil {
		m.logger.WithError(err).WithField("type", description.Type).Error("failed to set remote description")
		return span.Fail(fmt.Errorf("%w: %w", ErrCantSetRemoteDescription, err))
	}

	return nil
}

// Applies an ICE candidate received from the remote peer. Must be called after the remote
// description has been set.
func (m *Manager) AddICECandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	span := telemetry.NewTelemetry(ctx, "AddICECandidate")
	defer span.End()

	peerConnection, err := m.connection()
	if err != nil {
		return span.Fail(err)
	}

	if err := peerConnection.AddICECandidate(candidate); err != nil {
		m.logger.WithError(err).Error("failed to add ICE candidate")
		return span.Fail(fmt.Errorf("%w: %w", ErrCantAddICECandidate, err))
	}

	return nil
}
