package webrtc_ext

import "github.com/pion/webrtc/v3"

// Configuration of the peer connections used for calls.
type Config struct {
	// ICE servers used for NAT traversal. Defaults to public STUN servers only, which means
	// that calls between peers that are both behind restrictive NATs may fail. Add TURN servers
	// here to relay such calls.
	ICEServers []ICEServer `yaml:"iceServers"`
}

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

func DefaultICEServers() []ICEServer {
	return []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
}

// Returns a copy of the config with defaults applied.
func (c Config) WithDefaults() Config {
	if len(c.ICEServers) == 0 {
		c.ICEServers = DefaultICEServers()
	}

	return c
}

func (c Config) webrtcConfiguration() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, server := range c.ICEServers {
		iceServer := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" {
			iceServer.Username = server.Username
			iceServer.Credential = server.Credential
			iceServer.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, iceServer)
	}

	return webrtc.Configuration{ICEServers: servers}
}
