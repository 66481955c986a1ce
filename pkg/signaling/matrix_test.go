package signaling

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const peerUserID = id.UserID("@bob:example.org")

func newTestMatrixSignaler() *MatrixSignaler {
	return &MatrixSignaler{
		peer:      MatrixPeer{UserID: peerUserID, DeviceID: allDevices},
		sessionID: "local-session",
		logger:    logrus.NewEntry(logrus.New()),
		inbox:     make(chan Message, inboxSize),
	}
}

func callEvent(eventType event.Type, content interface{}) *event.Event {
	eventType.Class = event.ToDeviceEventType
	return &event.Event{
		Sender:  peerUserID,
		Type:    eventType,
		Content: event.Content{Parsed: content},
	}
}

func base(callID string, destSessionID id.SessionID) event.BaseCallEventContent {
	return event.BaseCallEventContent{
		CallID:          callID,
		SenderSessionID: "remote-session",
		DestSessionID:   destSessionID,
	}
}

func TestMatrix_ParseCallEvents(t *testing.T) {
	invite := callEvent(event.ToDeviceCallInvite, &event.CallInviteEventContent{
		BaseCallEventContent: base("call", ""),
		Offer:                event.CallData{Type: event.CallDataTypeOffer, SDP: "offer-sdp"},
	})
	messages, content, err := parseCallEvent(invite)
	require.NoError(t, err)
	assert.Equal(t, []Message{Offer{SDP: "offer-sdp"}}, messages)
	assert.Equal(t, "call", content.CallID)

	answer := callEvent(event.ToDeviceCallAnswer, &event.CallAnswerEventContent{
		BaseCallEventContent: base("call", "local-session"),
		Answer:               event.CallData{Type: event.CallDataTypeAnswer, SDP: "answer-sdp"},
	})
	messages, _, err = parseCallEvent(answer)
	require.NoError(t, err)
	assert.Equal(t, []Message{Answer{SDP: "answer-sdp"}}, messages)

	hangup := callEvent(event.ToDeviceCallHangup, &event.CallHangupEventContent{
		BaseCallEventContent: base("call", "local-session"),
		Reason:               event.CallHangupReason(ReasonUserHangup),
	})
	messages, _, err = parseCallEvent(hangup)
	require.NoError(t, err)
	assert.Equal(t, []Message{Hangup{Reason: ReasonUserHangup}}, messages)

	candidates := callEvent(event.ToDeviceCallCandidates, &event.CallCandidatesEventContent{
		BaseCallEventContent: base("call", "local-session"),
		Candidates:           []event.CallCandidate{{Candidate: "candidate:1", SDPMID: "0", SDPMLineIndex: 1}},
	})
	messages, _, err = parseCallEvent(candidates)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	candidate, ok := messages[0].(Candidate)
	require.True(t, ok)
	assert.Equal(t, "candidate:1", candidate.Candidate.Candidate)
	assert.Equal(t, "0", *candidate.Candidate.SDPMid)
	assert.Equal(t, uint16(1), *candidate.Candidate.SDPMLineIndex)
}

func TestMatrix_ParseCandidateBatch(t *testing.T) {
	batch := callEvent(event.ToDeviceCallCandidates, &event.CallCandidatesEventContent{
		BaseCallEventContent: base("call", "local-session"),
		Candidates: []event.CallCandidate{
			{Candidate: "candidate:1", SDPMID: "0"},
			{Candidate: "candidate:2", SDPMID: "0"},
			{Candidate: "candidate:3", SDPMID: "1", SDPMLineIndex: 1},
			{Candidate: ""},
		},
	})

	messages, _, err := parseCallEvent(batch)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	for i, message := range messages {
		candidate, ok := message.(Candidate)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("candidate:%d", i+1), candidate.Candidate.Candidate)
	}
}

func TestMatrix_DeliversEveryCandidateOfBatch(t *testing.T) {
	signaler := newTestMatrixSignaler()

	signaler.handleEvent(callEvent(event.ToDeviceCallInvite, &event.CallInviteEventContent{
		BaseCallEventContent: base("call", ""),
		Offer:                event.CallData{Type: event.CallDataTypeOffer, SDP: "offer-sdp"},
	}))
	assert.Equal(t, Offer{SDP: "offer-sdp"}, <-signaler.inbox)

	signaler.handleEvent(callEvent(event.ToDeviceCallCandidates, &event.CallCandidatesEventContent{
		BaseCallEventContent: base("call", "local-session"),
		Candidates: []event.CallCandidate{
			{Candidate: "candidate:1", SDPMID: "0"},
			{Candidate: "candidate:2", SDPMID: "0"},
			{Candidate: "candidate:3", SDPMID: "0"},
		},
	}))

	require.Len(t, signaler.inbox, 3)
	for i := 1; i <= 3; i++ {
		candidate, ok := (<-signaler.inbox).(Candidate)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("candidate:%d", i), candidate.Candidate.Candidate)
	}
}

func TestMatrix_CandidatesFollowTheirOffer(t *testing.T) {
	signaler := newTestMatrixSignaler()

	var (
		mutex sync.Mutex
		sent  []addressedMessage
	)
	signaler.outbox = newOutbox(signaler.logger, func(message Message) error {
		mutex.Lock()
		defer mutex.Unlock()
		sent = append(sent, message.(addressedMessage))
		return nil
	}, 0, nil)

	require.NoError(t, signaler.SendOffer("first-offer"))
	require.NoError(t, signaler.SendCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"}))
	require.NoError(t, signaler.SendOffer("second-offer"))
	require.NoError(t, signaler.SendCandidate(webrtc.ICECandidateInit{Candidate: "candidate:2"}))
	require.NoError(t, signaler.SendHangup(ReasonUserHangup))
	signaler.Close()

	require.Len(t, sent, 5)
	firstCall, secondCall := sent[0].base.CallID, sent[2].base.CallID
	assert.NotEmpty(t, firstCall)
	assert.NotEqual(t, firstCall, secondCall)

	assert.Equal(t, Candidate{Candidate: webrtc.ICECandidateInit{Candidate: "candidate:1"}}, sent[1].Message)
	assert.Equal(t, firstCall, sent[1].base.CallID)
	assert.Equal(t, secondCall, sent[3].base.CallID)
	assert.Equal(t, secondCall, sent[4].base.CallID)
	for _, message := range sent {
		assert.Equal(t, id.SessionID("local-session"), message.base.SenderSessionID)
	}
}

func TestMatrix_ParseEndOfCandidates(t *testing.T) {
	endOfCandidates := callEvent(event.ToDeviceCallCandidates, &event.CallCandidatesEventContent{
		BaseCallEventContent: base("call", "local-session"),
		Candidates:           []event.CallCandidate{{Candidate: ""}},
	})

	_, _, err := parseCallEvent(endOfCandidates)
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestMatrix_CandidateConversion(t *testing.T) {
	mid, index := "audio", uint16(2)
	candidate := webrtc.ICECandidateInit{Candidate: "candidate:2", SDPMid: &mid, SDPMLineIndex: &index}

	callCandidate := toCallCandidate(candidate)
	assert.Equal(t, event.CallCandidate{Candidate: "candidate:2", SDPMID: "audio", SDPMLineIndex: 2}, callCandidate)

	converted := fromCallCandidate(callCandidate)
	assert.Equal(t, candidate.Candidate, converted.Candidate)
	assert.Equal(t, mid, *converted.SDPMid)
	assert.Equal(t, index, *converted.SDPMLineIndex)

	assert.Equal(t, event.CallCandidate{Candidate: "candidate:3"}, toCallCandidate(webrtc.ICECandidateInit{Candidate: "candidate:3"}))
}

func TestMatrix_AcceptsEventsOfCurrentCallOnly(t *testing.T) {
	signaler := newTestMatrixSignaler()

	// Not part of any call yet.
	signaler.handleEvent(callEvent(event.ToDeviceCallHangup, &event.CallHangupEventContent{
		BaseCallEventContent: base("call", "local-session"),
	}))
	assert.Empty(t, signaler.inbox)

	signaler.handleEvent(callEvent(event.ToDeviceCallInvite, &event.CallInviteEventContent{
		BaseCallEventContent: base("call", ""),
		Offer:                event.CallData{Type: event.CallDataTypeOffer, SDP: "offer-sdp"},
	}))
	require.Len(t, signaler.inbox, 1)
	assert.Equal(t, Offer{SDP: "offer-sdp"}, <-signaler.inbox)
	assert.Equal(t, id.SessionID("remote-session"), signaler.remoteSessionID)

	// Another call, another session, another user.
	signaler.handleEvent(callEvent(event.ToDeviceCallHangup, &event.CallHangupEventContent{
		BaseCallEventContent: base("other-call", "local-session"),
	}))
	signaler.handleEvent(callEvent(event.ToDeviceCallHangup, &event.CallHangupEventContent{
		BaseCallEventContent: base("call", "other-session"),
	}))
	stranger := callEvent(event.ToDeviceCallHangup, &event.CallHangupEventContent{
		BaseCallEventContent: base("call", "local-session"),
	})
	stranger.Sender = "@mallory:example.org"
	signaler.handleEvent(stranger)
	assert.Empty(t, signaler.inbox)

	signaler.handleEvent(callEvent(event.ToDeviceCallHangup, &event.CallHangupEventContent{
		BaseCallEventContent: base("call", "local-session"),
		Reason:               event.CallHangupReason(ReasonUserHangup),
	}))
	require.Len(t, signaler.inbox, 1)
	assert.Equal(t, Hangup{Reason: ReasonUserHangup}, <-signaler.inbox)
}

func TestConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, Config{}.Validate(), ErrUnknownTransport)
	assert.Error(t, Config{Transport: TransportWebSocket}.Validate())
	assert.NoError(t, Config{Transport: TransportWebSocket, WebSocket: WebSocketConfig{URL: "ws://localhost/call"}}.Validate())

	matrix := Config{
		Transport: TransportMatrix,
		Matrix: MatrixConfig{
			UserID:        "@alice:example.org",
			HomeserverURL: "https://example.org",
			AccessToken:   "token",
		},
	}
	assert.Error(t, matrix.Validate())

	matrix.Matrix.Peer.UserID = peerUserID
	assert.NoError(t, matrix.Validate())
}
