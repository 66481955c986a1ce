package signaling_test

import (
	"sync"

	"github.com/moonly/moonly/pkg/signaling"
	"github.com/pion/webrtc/v3"
)

// In-memory signaler, connected to its counterpart.
type pipeSignaler struct {
	inbox chan signaling.Message
	peer  *pipeSignaler

	mutex sync.Mutex
	sent  []signaling.Message
}

func newPipe() (*pipeSignaler, *pipeSignaler) {
	a := &pipeSignaler{inbox: make(chan signaling.Message, 256)}
	b := &pipeSignaler{inbox: make(chan signaling.Message, 256)}
	a.peer, b.peer = b, a

	return a, b
}

func (p *pipeSignaler) SendOffer(sdp string) error {
	return p.send(signaling.Offer{SDP: sdp})
}

func (p *pipeSignaler) SendAnswer(sdp string) error {
	return p.send(signaling.Answer{SDP: sdp})
}

func (p *pipeSignaler) SendCandidate(candidate webrtc.ICECandidateInit) error {
	return p.send(signaling.Candidate{Candidate: candidate})
}

func (p *pipeSignaler) SendHangup(reason string) error {
	return p.send(signaling.Hangup{Reason: reason})
}

func (p *pipeSignaler) Messages() <-chan signaling.Message {
	return p.inbox
}

func (p *pipeSignaler) Close() {}

func (p *pipeSignaler) send(message signaling.Message) error {
	p.mutex.Lock()
	p.sent = append(p.sent, message)
	p.mutex.Unlock()

	p.peer.inbox <- message
	return nil
}

func (p *pipeSignaler) sentOfType(messageType signaling.MessageType) []signaling.Message {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var messages []signaling.Message
	for _, message := range p.sent {
		if message.Type() == messageType {
			messages = append(messages, message)
		}
	}

	return messages
}

func (p *pipeSignaler) sentMessages() []signaling.Message {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return append([]signaling.Message(nil), p.sent...)
}
