package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/moonly/moonly/pkg/call"
	"github.com/moonly/moonly/pkg/media"
	"github.com/moonly/moonly/pkg/telemetry"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Hangup reasons, named after the ones used by Matrix.
const (
	ReasonUserHangup       = "user_hangup"
	ReasonUserMediaFailed  = "user_media_failed"
	ReasonNegotiationError = "unknown_error"
)

// The part of `call.Manager` that the bridge drives.
type CallManager interface {
	State() call.State
	StartCall(ctx context.Context, audio, video bool) (*media.Stream, error)
	CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (*webrtc.SessionDescription, error)
	SetRemoteDescription(ctx context.Context, description webrtc.SessionDescription) error
	AddICECandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error
	OnICECandidate(callback func(webrtc.ICECandidateInit))
	EndCall() error
}

// Connects a call manager to a signaler: local descriptions and candidates go out, the ones of the
// remote party are applied as they arrive. Remote candidates that arrive before the remote description
// are held back until it is set, local ones until our description has been sent.
type Bridge struct {
	manager     CallManager
	signaler    Signaler
	constraints media.Constraints
	logger      *logrus.Entry

	mutex                sync.Mutex
	remoteDescriptionSet bool
	pendingCandidates    []webrtc.ICECandidateInit
	localDescriptionSent bool
	pendingLocal         []webrtc.ICECandidateInit
}

// Creates a bridge that places and answers calls with the given media.
func NewBridge(
	manager CallManager,
	signaler Signaler,
	constraints media.Constraints,
	logger *logrus.Entry,
) *Bridge {
	bridge := &Bridge{
		manager:     manager,
		signaler:    signaler,
		constraints: constraints,
		logger:      logger,
	}

	manager.OnICECandidate(bridge.onLocalCandidate)

	return bridge
}

// Starts the call and sends the offer to the remote party.
func (b *Bridge) Call(ctx context.Context) error {
	span := telemetry.NewTelemetry(ctx, "PlaceCall")
	defer span.End()

	b.reset()

	if _, err := b.manager.StartCall(span.Context(), b.constraints.Audio, b.constraints.Video); err != nil {
		return span.Fail(err)
	}

	offer, err := b.manager.CreateOffer(span.Context())
	if err != nil {
		return span.Fail(err)
	}

	send := span.CreateChild("SendOffer", attribute.Int("sdp_length", len(offer.SDP)))
	defer send.End()

	b.logger.Info("sending offer")
	if err := b.signaler.SendOffer(offer.SDP); err != nil {
		return send.Fail(err)
	}

	b.onLocalDescriptionSent()
	return nil
}

// Sends a hangup to the remote party and ends the call.
func (b *Bridge) Hangup(reason string) error {
	if err := b.signaler.SendHangup(reason); err != nil {
		b.logger.WithError(err).Warn("failed to send hangup")
	}

	b.reset()
	return b.manager.EndCall()
}

// Processes the messages of the remote party until the context is done or the signaler stops receiving.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-b.signaler.Messages():
			if !ok {
				b.logger.Info("signaling channel closed")
				return nil
			}

			if err := b.handleMessage(ctx, message); err != nil {
				b.logger.WithError(err).WithField("type", message.Type()).Error("failed to process signaling message")
			}
		}
	}
}

func (b *Bridge) handleMessage(ctx context.Context, message Message) error {
	switch msg := message.(type) {
	case Offer:
		return b.onOffer(ctx, msg)
	case Answer:
		return b.onRemoteDescription(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP})
	case Candidate:
		return b.onCandidate(ctx, msg.Candidate)
	case Hangup:
		b.logger.WithField("reason", msg.Reason).Info("remote party hung up")
		b.reset()
		return b.manager.EndCall()
	default:
		return ErrUnknownMessage
	}
}

// A remote offer starts an incoming call, unless one is already running, in which case it renegotiates the current one.
func (b *Bridge) onOffer(ctx context.Context, offer Offer) error {
	incoming := b.manager.State() == call.StateIdle

	span := telemetry.NewTelemetry(ctx, "AnswerCall", attribute.Bool("incoming", incoming))
	defer span.End()
	ctx = span.Context()

	if incoming {
		b.logger.Info("incoming call")
	}

	description := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := b.onRemoteDescription(ctx, description); err != nil {
		return span.Fail(b.abort(ReasonNegotiationError, err))
	}

	if incoming {
		if _, err := b.manager.StartCall(ctx, b.constraints.Audio, b.constraints.Video); err != nil {
			return span.Fail(b.abort(ReasonUserMediaFailed, err))
		}
	}

	b.holdLocalCandidates()

	answer, err := b.manager.CreateAnswer(ctx)
	if err != nil {
		return span.Fail(b.abort(ReasonNegotiationError, err))
	}

	b.logger.Info("sending answer")
	if err := b.signaler.SendAnswer(answer.SDP); err != nil {
		return span.Fail(err)
	}

	b.onLocalDescriptionSent()
	return nil
}

func (b *Bridge) onRemoteDescription(ctx context.Context, description webrtc.SessionDescription) error {
	if err := b.manager.SetRemoteDescription(ctx, description); err != nil {
		return err
	}

	b.mutex.Lock()
	b.remoteDescriptionSet = true
	pending := b.pendingCandidates
	b.pendingCandidates = nil
	b.mutex.Unlock()

	if len(pending) == 0 {
		return nil
	}

	span := telemetry.NewTelemetry(ctx, "ApplyBufferedCandidates", attribute.Int("count", len(pending)))
	defer span.End()
	ctx = span.Context()

	for _, candidate := range pending {
		if err := b.manager.AddICECandidate(ctx, candidate); err != nil {
			b.logger.WithError(err).Warn("failed to apply buffered candidate")
		}
	}

	return nil
}

func (b *Bridge) onCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	b.mutex.Lock()
	if !b.remoteDescriptionSet {
		b.pendingCandidates = append(b.pendingCandidates, candidate)
		b.mutex.Unlock()
		return nil
	}
	b.mutex.Unlock()

	return b.manager.AddICECandidate(ctx, candidate)
}

// Candidates are gathered as soon as the local description is set, which is before it is sent.
func (b *Bridge) onLocalCandidate(candidate webrtc.ICECandidateInit) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.localDescriptionSent {
		b.pendingLocal = append(b.pendingLocal, candidate)
		return
	}

	b.sendCandidate(candidate)
}

func (b *Bridge) holdLocalCandidates() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.localDescriptionSent = false
}

func (b *Bridge) onLocalDescriptionSent() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.localDescriptionSent = true
	for _, candidate := range b.pendingLocal {
		b.sendCandidate(candidate)
	}
	b.pendingLocal = nil
}

// Sending only queues the candidate, so it is fine to call it with the mutex held.
func (b *Bridge) sendCandidate(candidate webrtc.ICECandidateInit) {
	if err := b.signaler.SendCandidate(candidate); err != nil {
		b.logger.WithError(err).Warn("failed to send local candidate")
	}
}

// Gives up on the call that could not be set up.
func (b *Bridge) abort(reason string, cause error) error {
	if err := b.Hangup(reason); err != nil {
		b.logger.WithError(err).Error("failed to end the call")
	}

	return fmt.Errorf("call aborted (%s): %w", reason, cause)
}

func (b *Bridge) reset() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.remoteDescriptionSet = false
	b.pendingCandidates = nil
	b.localDescriptionSent = false
	b.pendingLocal = nil
}
