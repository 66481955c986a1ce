package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
)

type MatrixClient struct {
	client *mautrix.Client
	logger *logrus.Entry
}

// Creates a Matrix client and makes sure that the access token belongs to the configured user.
func NewMatrixClient(config MatrixConfig, logger *logrus.Entry) (*MatrixClient, error) {
	client, err := mautrix.NewClient(config.HomeserverURL, config.UserID, config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	whoami, err := client.Whoami()
	if err != nil {
		return nil, fmt.Errorf("failed to identify user: %w", err)
	}

	if config.UserID != whoami.UserID {
		return nil, errors.New("access token is for the wrong user")
	}

	logger = logger.WithField("device_id", whoami.DeviceID)
	logger.Info("identified matrix device")
	client.DeviceID = whoami.DeviceID

	return &MatrixClient{client: client, logger: logger}, nil
}

// Syncs with the homeserver and hands every to-device event to the callback.
// Returns when the context is done or when the sync fails.
func (m *MatrixClient) RunSyncing(ctx context.Context, callback func(*event.Event)) error {
	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("syncer is not DefaultSyncer")
	}

	syncer.ParseEventContent = true
	syncer.OnEvent(func(_ mautrix.EventSource, evt *event.Event) {
		// We only care about to-device events but also receive m.presence and
		// m.push_rules events; we can simply ignore those.
		if evt.Type.Class != event.ToDeviceEventType {
			return
		}

		callback(evt)
	})

	stopped := make(chan struct{})
	defer close(stopped)

	go func() {
		select {
		case <-ctx.Done():
			m.client.StopSync()
		case <-stopped:
		}
	}()

	if err := m.client.Sync(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	return nil
}
