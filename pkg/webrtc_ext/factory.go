package webrtc_ext

import (
	"fmt"

	"github.com/pion/webrtc/v3"
)

// Peer connection factory is used to construct new (pre-configured) peer connections.
type PeerConnectionFactory struct {
	api           *webrtc.API
	configuration webrtc.Configuration
}

func NewPeerConnectionFactory(config Config) (*PeerConnectionFactory, error) {
	api, err := createWebRTCAPI()
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC API: %w", err)
	}

	return &PeerConnectionFactory{api, config.WithDefaults().webrtcConfiguration()}, nil
}

// Creates a peer connection that uses the configured ICE servers.
func (f *PeerConnectionFactory) CreatePeerConnection() (*webrtc.PeerConnection, error) {
	return f.api.NewPeerConnection(f.configuration)
}

// ICE servers the created peer connections are configured with.
func (f *PeerConnectionFactory) ICEServers() []webrtc.ICEServer {
	return append([]webrtc.ICEServer(nil), f.configuration.ICEServers...)
}
