package media_test

import (
	"io"
	"sync"
	"testing"

	"github.com/moonly/moonly/pkg/media"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
)

type packetReader struct {
	packets []*rtp.Packet
}

func (r *packetReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(r.packets) == 0 {
		return nil, nil, io.EOF
	}

	packet := r.packets[0]
	r.packets = r.packets[1:]

	return packet, nil, nil
}

func packets(sequenceNumbers ...uint16) *packetReader {
	reader := &packetReader{}
	for _, sequenceNumber := range sequenceNumbers {
		reader.packets = append(reader.packets, &rtp.Packet{
			Header:  rtp.Header{SequenceNumber: sequenceNumber},
			Payload: []byte{1, 2, 3},
		})
	}

	return reader
}

func TestDrain_CountsPackets(t *testing.T) {
	var received []uint16
	stats := media.Drain(packets(1, 2, 3), func(packet *rtp.Packet) {
		received = append(received, packet.SequenceNumber)
	})

	assert.Equal(t, media.ReceiveStats{Packets: 3, Bytes: 9}, stats)
	assert.Equal(t, []uint16{1, 2, 3}, received)
}

func TestDrain_LostAndReordered(t *testing.T) {
	// 3 and 5 are missing, 3 arrives late.
	stats := media.Drain(packets(1, 2, 4, 3, 6), nil)

	assert.Equal(t, uint64(5), stats.Packets)
	assert.Equal(t, uint64(1), stats.Lost)
	assert.Equal(t, uint64(1), stats.Reordered)
}

func TestDrain_SequenceNumberRollover(t *testing.T) {
	stats := media.Drain(packets(65534, 65535, 0, 2), nil)

	assert.Equal(t, uint64(4), stats.Packets)
	assert.Equal(t, uint64(1), stats.Lost)
	assert.Zero(t, stats.Reordered)
}

func TestDrain_EmptyTrack(t *testing.T) {
	assert.Equal(t, media.ReceiveStats{}, media.Drain(packets(), nil))
}

func TestReceiver_ConsumesEveryTrackOnce(t *testing.T) {
	var (
		mutex    sync.Mutex
		consumed []*webrtc.TrackRemote
		wg       sync.WaitGroup
	)
	receiver := media.NewReceiver(func(track *webrtc.TrackRemote) {
		defer wg.Done()

		mutex.Lock()
		defer mutex.Unlock()
		consumed = append(consumed, track)
	})

	audio, video := &webrtc.TrackRemote{}, &webrtc.TrackRemote{}
	stream := media.NewRemoteStream("remote")

	// The stream is reported once per track, audio usually arrives first.
	wg.Add(1)
	stream.AddTrack(audio)
	assert.Equal(t, []*webrtc.TrackRemote{audio}, receiver.Receive(stream))

	wg.Add(1)
	stream.AddTrack(video)
	assert.Equal(t, []*webrtc.TrackRemote{video}, receiver.Receive(stream))

	assert.Empty(t, receiver.Receive(stream))
	wg.Wait()

	assert.ElementsMatch(t, []*webrtc.TrackRemote{audio, video}, consumed)
}

func TestReceiver_TracksAddedBeforeReport(t *testing.T) {
	var wg sync.WaitGroup
	receiver := media.NewReceiver(func(*webrtc.TrackRemote) { wg.Done() })

	// Both tracks joined before the first report was handled.
	stream := media.NewRemoteStream("remote")
	audio, video := &webrtc.TrackRemote{}, &webrtc.TrackRemote{}
	stream.AddTrack(audio)
	stream.AddTrack(video)

	wg.Add(2)
	assert.Equal(t, []*webrtc.TrackRemote{audio, video}, receiver.Receive(stream))
	assert.Empty(t, receiver.Receive(stream))
	wg.Wait()
}
