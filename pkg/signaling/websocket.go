package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout     = 5 * time.Second
	defaultKeepAlive = 20 * time.Second
)

// Message as it travels over the WebSocket.
type wireMessage struct {
	Type      MessageType              `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
}

// Relays the call as JSON messages over a WebSocket connection.
type WebSocketSignaler struct {
	*outbox

	conn   *websocket.Conn
	logger *logrus.Entry
	inbox  chan Message
}

// Connects to the relay at the configured URL.
func DialWebSocket(ctx context.Context, config WebSocketConfig, logger *logrus.Entry) (*WebSocketSignaler, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	keepAlive := config.KeepAlive
	if keepAlive == 0 {
		keepAlive = defaultKeepAlive
	}

	return NewWebSocketSignaler(conn, keepAlive, logger.WithField("url", config.URL)), nil
}

// Takes over an established connection and starts receiving from it. The connection is
// pinged whenever no message was sent within `keepAlive`, a negative value disables pinging.
func NewWebSocketSignaler(conn *websocket.Conn, keepAlive time.Duration, logger *logrus.Entry) *WebSocketSignaler {
	signaler := &WebSocketSignaler{
		conn:   conn,
		logger: logger,
		inbox:  make(chan Message, inboxSize),
	}
	if keepAlive > 0 {
		signaler.outbox = newOutbox(logger, signaler.write, keepAlive, signaler.ping)
	} else {
		signaler.outbox = newOutbox(logger, signaler.write, 0, nil)
	}

	go signaler.readPump()

	return signaler
}

func (s *WebSocketSignaler) Messages() <-chan Message {
	return s.inbox
}

// Sends the queued messages, then closes the connection.
func (s *WebSocketSignaler) Close() {
	s.flush()

	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(writeTimeout)); err != nil {
		s.logger.WithError(err).Debug("failed to send close message")
	}

	if err := s.conn.Close(); err != nil {
		s.logger.WithError(err).Debug("failed to close websocket")
	}
}

// Only called from the outbox worker, so there is a single writer at a time.
func (s *WebSocketSignaler) write(message Message) error {
	wire, err := toWireMessage(message)
	if err != nil {
		return err
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return s.conn.WriteJSON(wire)
}

// Keeps idle relays and proxies from dropping the connection while the call is running.
func (s *WebSocketSignaler) ping() {
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
		s.logger.WithError(err).Warn("failed to ping websocket")
	}
}

func (s *WebSocketSignaler) readPump() {
	defer close(s.inbox)

	for {
		var wire wireMessage
		if err := s.conn.ReadJSON(&wire); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				s.logger.Info("websocket closed by the remote party")
			} else {
				s.logger.WithError(err).Warn("websocket read failed")
			}
			return
		}

		message, err := fromWireMessage(wire)
		if err != nil {
			s.logger.WithError(err).Warn("ignoring message")
			continue
		}

		s.inbox <- message
	}
}

func toWireMessage(message Message) (wireMessage, error) {
	switch msg := message.(type) {
	case Offer:
		return wireMessage{Type: MessageTypeOffer, SDP: msg.SDP}, nil
	case Answer:
		return wireMessage{Type: MessageTypeAnswer, SDP: msg.SDP}, nil
	case Candidate:
		candidate := msg.Candidate
		return wireMessage{Type: MessageTypeCandidate, Candidate: &candidate}, nil
	case Hangup:
		return wireMessage{Type: MessageTypeHangup, Reason: msg.Reason}, nil
	default:
		return wireMessage{}, ErrUnknownMessage
	}
}

func fromWireMessage(wire wireMessage) (Message, error) {
	switch wire.Type {
	case MessageTypeOffer:
		return Offer{SDP: wire.SDP}, nil
	case MessageTypeAnswer:
		return Answer{SDP: wire.SDP}, nil
	case MessageTypeCandidate:
		if wire.Candidate == nil {
			return nil, fmt.Errorf("%w: candidate is missing", ErrUnknownMessage)
		}
		return Candidate{Candidate: *wire.Candidate}, nil
	case MessageTypeHangup:
		return Hangup{Reason: wire.Reason}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, wire.Type)
	}
}
