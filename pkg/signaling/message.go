package signaling

import "github.com/pion/webrtc/v3"

// Discriminates the messages exchanged with the remote party.
type MessageType string

const (
	MessageTypeOffer     MessageType = "offer"
	MessageTypeAnswer    MessageType = "answer"
	MessageTypeCandidate MessageType = "candidate"
	MessageTypeHangup    MessageType = "hangup"
)

// A signaling message, one of `Offer`, `Answer`, `Candidate` or `Hangup`.
type Message interface {
	Type() MessageType
}

type Offer struct {
	SDP string
}

type Answer struct {
	SDP string
}

type Candidate struct {
	Candidate webrtc.ICECandidateInit
}

type Hangup struct {
	Reason string
}

func (Offer) Type() MessageType     { return MessageTypeOffer }
func (Answer) Type() MessageType    { return MessageTypeAnswer }
func (Candidate) Type() MessageType { return MessageTypeCandidate }
func (Hangup) Type() MessageType    { return MessageTypeHangup }
