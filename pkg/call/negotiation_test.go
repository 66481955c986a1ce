package call_test

import (
	"context"
	"testing"

	"github.com/moonly/moonly/pkg/call"
	"github.com/moonly/moonly/pkg/media/mediatest"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiation_OfferAnswer(t *testing.T) {
	ctx := context.Background()
	caller := newManager(t, mediatest.NewDevices())
	callee := newManager(t, mediatest.NewDevices())

	_, err := caller.StartCall(ctx, true, true)
	require.NoError(t, err)

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.NotEmpty(t, offer.SDP)

	require.NoError(t, callee.SetRemoteDescription(ctx, *offer))

	_, err = callee.StartCall(ctx, true, false)
	require.NoError(t, err)

	answer, err := callee.CreateAnswer(ctx)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	assert.NoError(t, caller.SetRemoteDescription(ctx, *answer))
}

func TestNegotiation_AnswerWithoutOffer(t *testing.T) {
	ctx := context.Background()
	caller := newManager(t, mediatest.NewDevices())
	other := newManager(t, mediatest.NewDevices())

	_, err := caller.StartCall(ctx, true, false)
	require.NoError(t, err)

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)

	// `other` never created an offer, so it can't accept an answer.
	bogusAnswer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: offer.SDP}
	assert.ErrorIs(t, other.SetRemoteDescription(ctx, bogusAnswer), call.ErrCantSetRemoteDescription)
}

func TestNegotiation_CreateAnswerWithoutOffer(t *testing.T) {
	manager := newManager(t, mediatest.NewDevices())

	_, err := manager.CreateAnswer(context.Background())
	assert.ErrorIs(t, err, call.ErrCantCreateAnswer)
}

func TestNegotiation_CandidateBeforeRemoteDescription(t *testing.T) {
	manager := newManager(t, mediatest.NewDevices())

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host"}
	assert.ErrorIs(t, manager.AddICECandidate(context.Background(), candidate), call.ErrCantAddICECandidate)
}
