package media

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// A set of local tracks captured together (e.g. microphone + camera or a screen capture).
type Stream struct {
	id     string
	tracks []*Track
}

func NewStream(id string, tracks ...*Track) *Stream {
	return &Stream{id: id, tracks: tracks}
}

func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) Tracks() []*Track {
	return append([]*Track(nil), s.tracks...)
}

func (s *Stream) AudioTracks() []*Track {
	return s.tracksOfKind(webrtc.RTPCodecTypeAudio)
}

func (s *Stream) VideoTracks() []*Track {
	return s.tracksOfKind(webrtc.RTPCodecTypeVideo)
}

// Stops every track of the stream. Safe to call multiple times.
func (s *Stream) Stop() {
	for _, track := range s.tracks {
		track.Stop()
	}
}

func (s *Stream) tracksOfKind(kind webrtc.RTPCodecType) []*Track {
	var tracks []*Track
	for _, track := range s.tracks {
		if track.Kind() == kind {
			tracks = append(tracks, track)
		}
	}

	return tracks
}

// Stream of the remote party, assembled from the tracks that the peer connection delivers.
type RemoteStream struct {
	id string

	mutex  sync.RWMutex
	tracks []*webrtc.TrackRemote
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (s *RemoteStream) ID() string {
	return s.id
}

func (s *RemoteStream) AddTrack(track *webrtc.TrackRemote) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.tracks = append(s.tracks, track)
}

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return append([]*webrtc.TrackRemote(nil), s.tracks...)
}
