package signaling

import (
	"errors"
	"time"

	"maunium.net/go/mautrix/id"
)

const (
	TransportMatrix    = "matrix"
	TransportWebSocket = "websocket"
)

// Signaling configuration.
type Config struct {
	// Either `matrix` or `websocket`.
	Transport string `yaml:"transport"`
	// Matrix configuration, used with the `matrix` transport.
	Matrix MatrixConfig `yaml:"matrix"`
	// WebSocket configuration, used with the `websocket` transport.
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// Configuration for the Matrix client.
type MatrixConfig struct {
	// The Matrix ID (MXID) of the local party.
	UserID id.UserID `yaml:"userId"`
	// The URL of the homeserver that the client talks to.
	HomeserverURL string `yaml:"homeserverUrl"`
	// The access token for the Matrix SDK.
	AccessToken string `yaml:"accessToken"`
	// The party on the other end of the call.
	Peer MatrixPeer `yaml:"peer"`
}

// The user (and optionally the device) the call events are exchanged with.
type MatrixPeer struct {
	UserID id.UserID `yaml:"userId"`
	// Events are sent to all devices of the user if not set.
	DeviceID id.DeviceID `yaml:"deviceId"`
}

type WebSocketConfig struct {
	// The URL of the relay, e.g. `ws://localhost:8080/call`.
	URL string `yaml:"url"`
	// How long the connection may stay silent before it is pinged, 20s if not set.
	// A negative value disables pinging.
	KeepAlive time.Duration `yaml:"keepAlive"`
}

func (c Config) Validate() error {
	switch c.Transport {
	case TransportMatrix:
		if c.Matrix.UserID == "" || c.Matrix.HomeserverURL == "" || c.Matrix.AccessToken == "" {
			return errors.New("matrix credentials are not set")
		}

		if c.Matrix.Peer.UserID == "" {
			return errors.New("matrix peer is not set")
		}
	case TransportWebSocket:
		if c.WebSocket.URL == "" {
			return errors.New("websocket url is not set")
		}
	default:
		return ErrUnknownTransport
	}

	return nil
}
