package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moonly/moonly/pkg/common"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

var (
	ErrCantSend         = errors.New("can't send signaling message")
	ErrUnknownMessage   = errors.New("unknown signaling message")
	ErrUnknownTransport = errors.New("unknown signaling transport")
)

const (
	outboxSize = 128
	inboxSize  = 64
)

// Relays session descriptions, ICE candidates and hangups between the two parties of a call.
// Sending never blocks on the network: messages are queued and delivered in order.
type Signaler interface {
	SendOffer(sdp string) error
	SendAnswer(sdp string) error
	SendCandidate(candidate webrtc.ICECandidateInit) error
	SendHangup(reason string) error
	// Messages received from the remote party. Closed once the signaler stops receiving.
	Messages() <-chan Message
	// Delivers the queued messages and releases the connection.
	Close()
}

// Ordered queue of outgoing messages shared by the relays.
type outbox struct {
	worker *common.Worker[Message]
}

// When `keepAlive` is set, `onIdle` is called whenever nothing was sent for that long.
func newOutbox(
	logger *logrus.Entry,
	deliver func(Message) error,
	keepAlive time.Duration,
	onIdle func(),
) *outbox {
	worker := common.StartWorker(common.WorkerConfig[Message]{
		ChannelSize: outboxSize,
		Timeout:     keepAlive,
		OnTimeout:   onIdle,
		OnTask: func(message Message) {
			if err := deliver(message); err != nil {
				logger.WithError(err).WithField("type", message.Type()).Error("failed to send signaling message")
			}
		},
	})

	return &outbox{worker: worker}
}

func (o *outbox) SendOffer(sdp string) error {
	return o.send(Offer{SDP: sdp})
}

func (o *outbox) SendAnswer(sdp string) error {
	return o.send(Answer{SDP: sdp})
}

func (o *outbox) SendCandidate(candidate webrtc.ICECandidateInit) error {
	return o.send(Candidate{Candidate: candidate})
}

func (o *outbox) SendHangup(reason string) error {
	return o.send(Hangup{Reason: reason})
}

func (o *outbox) send(message Message) error {
	if err := o.worker.Send(message); err != nil {
		return fmt.Errorf("%w: %w", ErrCantSend, err)
	}

	return nil
}

// Waits until every queued message has been handed to the transport.
func (o *outbox) flush() {
	o.worker.Stop()
	<-o.worker.Done()
}

// Creates the signaler for the configured transport. A Matrix signaler keeps syncing until the context is done.
func Connect(ctx context.Context, config Config, logger *logrus.Entry) (Signaler, error) {
	switch config.Transport {
	case TransportWebSocket:
		signaler, err := DialWebSocket(ctx, config.WebSocket, logger)
		if err != nil {
			return nil, err
		}

		return signaler, nil
	case TransportMatrix:
		client, err := NewMatrixClient(config.Matrix, logger)
		if err != nil {
			return nil, err
		}

		signaler := NewMatrixSignaler(client, config.Matrix.Peer, logger)
		go func() {
			if err := signaler.Run(ctx); err != nil {
				logger.WithError(err).Error("matrix sync stopped")
			}
		}()

		return signaler, nil
	default:
		return nil, ErrUnknownTransport
	}
}
