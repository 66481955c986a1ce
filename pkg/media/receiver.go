package media

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// Source of incoming RTP packets, e.g. `webrtc.TrackRemote`.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Reception statistics of a remote track.
type ReceiveStats struct {
	Packets uint64
	Bytes   uint64
	// Packets that never arrived, judging by the gaps in the sequence numbers.
	Lost uint64
	// Packets that arrived after a later one.
	Reordered uint64
}

type sequenceTracker struct {
	started bool
	latest  uint16
}

// Returns how many packets are missing between the latest and the given sequence number,
// or -1 if the packet is older than the latest one.
func (s *sequenceTracker) advance(sequenceNumber uint16) int {
	if !s.started {
		s.started, s.latest = true, sequenceNumber
		return 0
	}

	// The difference is taken modulo 2^16, so it survives the rollover.
	delta := int16(sequenceNumber - s.latest)
	if delta <= 0 {
		return -1
	}

	s.latest = sequenceNumber
	return int(delta) - 1
}

// Reads packets until the reader fails (the track has ended) and returns what has been received.
// Remote tracks must be read continuously, otherwise their buffers fill up.
func Drain(reader RTPReader, onPacket func(*rtp.Packet)) ReceiveStats {
	var (
		stats    ReceiveStats
		sequence sequenceTracker
	)

	for {
		packet, _, err := reader.ReadRTP()
		if err != nil {
			return stats
		}

		stats.Packets++
		stats.Bytes += uint64(len(packet.Payload))

		switch missing := sequence.advance(packet.SequenceNumber); {
		case missing < 0:
			stats.Reordered++
			if stats.Lost > 0 {
				stats.Lost--
			}
		default:
			stats.Lost += uint64(missing)
		}

		if onPacket != nil {
			onPacket(packet)
		}
	}
}

// Hands every track of the remote streams to `consume` exactly once, in its own goroutine.
// The remote stream is reported again for every track that joins it, so the tracks seen
// before are skipped.
type Receiver struct {
	consume func(*webrtc.TrackRemote)

	mutex    sync.Mutex
	consumed map[*webrtc.TrackRemote]struct{}
}

func NewReceiver(consume func(*webrtc.TrackRemote)) *Receiver {
	return &Receiver{
		consume:  consume,
		consumed: make(map[*webrtc.TrackRemote]struct{}),
	}
}

// Starts consuming the tracks of the stream that are new and returns them.
func (r *Receiver) Receive(stream *RemoteStream) []*webrtc.TrackRemote {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var started []*webrtc.TrackRemote
	for _, track := range stream.Tracks() {
		if _, ok := r.consumed[track]; ok {
			continue
		}

		r.consumed[track] = struct{}{}
		started = append(started, track)
		go r.consume(track)
	}

	return started
}
