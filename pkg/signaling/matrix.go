/*
Copyright 2022 The Matrix.org Foundation C.I.C.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// How long (in milliseconds) the remote party may take to answer our invite.
const inviteLifetime = 60000

// Events are sent to every device of the peer unless a device is configured.
const allDevices = id.DeviceID("*")

// Relays the call over Matrix to-device `m.call.*` events.
type MatrixSignaler struct {
	*outbox

	client    *MatrixClient
	peer      MatrixPeer
	sessionID id.SessionID
	logger    *logrus.Entry
	inbox     chan Message

	mutex           sync.Mutex
	callID          string
	remoteSessionID id.SessionID
}

func NewMatrixSignaler(client *MatrixClient, peer MatrixPeer, logger *logrus.Entry) *MatrixSignaler {
	if peer.DeviceID == "" {
		peer.DeviceID = allDevices
	}

	signaler := &MatrixSignaler{
		client:    client,
		peer:      peer,
		sessionID: id.SessionID(uuid.NewString()),
		logger:    logger.WithField("peer_id", peer.UserID),
		inbox:     make(chan Message, inboxSize),
	}
	signaler.outbox = newOutbox(signaler.logger, signaler.sendMessage, 0, nil)

	return signaler
}

// Receives the call events of the peer until the context is done or the sync fails.
func (s *MatrixSignaler) Run(ctx context.Context) error {
	defer close(s.inbox)
	return s.client.RunSyncing(ctx, s.handleEvent)
}

func (s *MatrixSignaler) Messages() <-chan Message {
	return s.inbox
}

func (s *MatrixSignaler) Close() {
	s.flush()
}

// Outgoing message together with the call it belongs to. The call is fixed when the
// message is queued, so that messages queued around an offer end up in the right call.
type addressedMessage struct {
	Message
	base event.BaseCallEventContent
}

func (s *MatrixSignaler) SendOffer(sdp string) error {
	return s.enqueue(Offer{SDP: sdp})
}

func (s *MatrixSignaler) SendAnswer(sdp string) error {
	return s.enqueue(Answer{SDP: sdp})
}

func (s *MatrixSignaler) SendCandidate(candidate webrtc.ICECandidateInit) error {
	return s.enqueue(Candidate{Candidate: candidate})
}

func (s *MatrixSignaler) SendHangup(reason string) error {
	return s.enqueue(Hangup{Reason: reason})
}

func (s *MatrixSignaler) enqueue(message Message) error {
	base := s.createBaseEventContent(message.Type() == MessageTypeOffer)
	return s.send(addressedMessage{Message: message, base: base})
}

func (s *MatrixSignaler) handleEvent(evt *event.Event) {
	logger := s.logger.WithFields(logrus.Fields{
		"type":    evt.Type.Type,
		"user_id": evt.Sender,
	})

	if evt.Sender != s.peer.UserID {
		logger.Debug("ignoring event from a user we are not calling")
		return
	}

	messages, base, err := parseCallEvent(evt)
	if err != nil {
		logger.WithError(err).Warn("ignoring event")
		return
	}

	if !s.accept(evt.Type.Type == event.ToDeviceCallInvite.Type, base) {
		logger.WithField("call_id", base.CallID).Warn("ignoring event for another call or session")
		return
	}

	for _, message := range messages {
		s.inbox <- message
	}
}

// An invite starts a new call. Every other event must belong to the current call and be meant for our session.
func (s *MatrixSignaler) accept(invite bool, base event.BaseCallEventContent) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if invite {
		s.callID = base.CallID
		s.remoteSessionID = base.SenderSessionID
		return true
	}

	if base.CallID != s.callID || base.DestSessionID != s.sessionID {
		return false
	}

	if s.remoteSessionID == "" {
		s.remoteSessionID = base.SenderSessionID
	}

	return true
}

func (s *MatrixSignaler) sendMessage(message Message) error {
	addressed, ok := message.(addressedMessage)
	if !ok {
		return ErrUnknownMessage
	}

	var (
		eventType event.Type
		content   interface{}
	)

	switch msg := addressed.Message.(type) {
	case Offer:
		eventType = event.CallInvite
		content = event.CallInviteEventContent{
			BaseCallEventContent: addressed.base,
			Lifetime:             inviteLifetime,
			Offer:                event.CallData{Type: event.CallDataTypeOffer, SDP: msg.SDP},
		}
	case Answer:
		eventType = event.CallAnswer
		content = event.CallAnswerEventContent{
			BaseCallEventContent: addressed.base,
			Answer:               event.CallData{Type: event.CallDataTypeAnswer, SDP: msg.SDP},
		}
	case Candidate:
		eventType = event.CallCandidates
		content = event.CallCandidatesEventContent{
			BaseCallEventContent: addressed.base,
			Candidates:           []event.CallCandidate{toCallCandidate(msg.Candidate)},
		}
	case Hangup:
		eventType = event.CallHangup
		content = event.CallHangupEventContent{
			BaseCallEventContent: addressed.base,
			Reason:               event.CallHangupReason(msg.Reason),
		}
	default:
		return ErrUnknownMessage
	}

	return s.sendToDevice(eventType, &event.Content{Parsed: content})
}

// Our offer opens a new call. Anything sent outside of a call opens one as well.
func (s *MatrixSignaler) createBaseEventContent(newCall bool) event.BaseCallEventContent {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if newCall || s.callID == "" {
		s.callID = uuid.NewString()
		s.remoteSessionID = ""
	}

	var deviceID id.DeviceID
	if s.client != nil {
		deviceID = s.client.client.DeviceID
	}

	return event.BaseCallEventContent{
		CallID:          s.callID,
		DeviceID:        deviceID,
		SenderSessionID: s.sessionID,
		DestSessionID:   s.remoteSessionID,
		PartyID:         string(deviceID),
		Version:         event.CallVersion("1"),
	}
}

func (s *MatrixSignaler) sendToDevice(eventType event.Type, content *event.Content) error {
	sendRequest := &mautrix.ReqSendToDevice{
		Messages: map[id.UserID]map[id.DeviceID]*event.Content{
			s.peer.UserID: {
				s.peer.DeviceID: content,
			},
		},
	}

	if _, err := s.client.client.SendToDevice(eventType, sendRequest); err != nil {
		return fmt.Errorf("failed to send to-device event: %w", err)
	}

	return nil
}

// Converts a received `m.call.*` event into signaling messages. A batch of candidates
// yields one message per candidate.
func parseCallEvent(evt *event.Event) ([]Message, event.BaseCallEventContent, error) {
	switch evt.Type.Type {
	case event.ToDeviceCallInvite.Type:
		invite := evt.Content.AsCallInvite()
		return []Message{Offer{SDP: invite.Offer.SDP}}, invite.BaseCallEventContent, nil
	case event.ToDeviceCallAnswer.Type:
		answer := evt.Content.AsCallAnswer()
		return []Message{Answer{SDP: answer.Answer.SDP}}, answer.BaseCallEventContent, nil
	case event.ToDeviceCallCandidates.Type:
		candidates := evt.Content.AsCallCandidates()

		messages := make([]Message, 0, len(candidates.Candidates))
		for _, candidate := range candidates.Candidates {
			// An empty candidate marks the end of the gathering.
			if candidate.Candidate == "" {
				continue
			}
			messages = append(messages, Candidate{Candidate: fromCallCandidate(candidate)})
		}

		if len(messages) == 0 {
			return nil, candidates.BaseCallEventContent, fmt.Errorf("%w: no candidates", ErrUnknownMessage)
		}

		return messages, candidates.BaseCallEventContent, nil
	case event.ToDeviceCallHangup.Type:
		hangup := evt.Content.AsCallHangup()
		return []Message{Hangup{Reason: string(hangup.Reason)}}, hangup.BaseCallEventContent, nil
	default:
		return nil, event.BaseCallEventContent{}, fmt.Errorf("%w: %s", ErrUnknownMessage, evt.Type.Type)
	}
}

func toCallCandidate(candidate webrtc.ICECandidateInit) event.CallCandidate {
	callCandidate := event.CallCandidate{Candidate: candidate.Candidate}
	if candidate.SDPMid != nil {
		callCandidate.SDPMID = *candidate.SDPMid
	}
	if candidate.SDPMLineIndex != nil {
		callCandidate.SDPMLineIndex = int(*candidate.SDPMLineIndex)
	}

	return callCandidate
}

func fromCallCandidate(candidate event.CallCandidate) webrtc.ICECandidateInit {
	SDPMLineIndex := uint16(candidate.SDPMLineIndex)
	return webrtc.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           &candidate.SDPMID,
		SDPMLineIndex:    &SDPMLineIndex,
		UsernameFragment: new(string),
	}
}
