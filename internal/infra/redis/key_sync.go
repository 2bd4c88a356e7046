package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/openctemio/membership/pkg/logger"
)

// PushTypeSyncOrgKeys tells a user's devices to refetch organization keys.
const PushTypeSyncOrgKeys = "sync_org_keys"

// KeySyncMessage is the payload published for each push.
type KeySyncMessage struct {
	Type   string    `json:"type"`
	UserID string    `json:"user_id"`
	Date   time.Time `json:"date"`
}

// KeySyncPublisher publishes key sync pushes on a Redis channel. The push
// relay subscribed to the channel fans them out to the user's devices.
type KeySyncPublisher struct {
	client  *Client
	channel string
	now     func() time.Time
	logger  *logger.Logger
}

// NewKeySyncPublisher creates a new KeySyncPublisher.
func NewKeySyncPublisher(client *Client, channel string, log *logger.Logger) (*KeySyncPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		return nil, errors.New("channel is required")
	}
	return &KeySyncPublisher{
		client:  client,
		channel: channel,
		now:     time.Now,
		logger:  log.With("component", "key_sync"),
	}, nil
}

// PushSyncOrgKeys publishes a sync_org_keys push for the user.
func (p *KeySyncPublisher) PushSyncOrgKeys(ctx context.Context, userID shared.ID) error {
	data, err := json.Marshal(KeySyncMessage{
		Type:   PushTypeSyncOrgKeys,
		UserID: userID.String(),
		Date:   p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal key sync message: %w", err)
	}

	done := Timed("publish")
	receivers, err := p.client.client.Publish(ctx, p.channel, data).Result()
	done(err)
	if err != nil {
		return fmt.Errorf("publish key sync: %w", err)
	}
	DefaultMetrics.RecordPublish(p.channel)

	p.logger.Debug("published key sync",
		"user_id", userID.String(),
		"receivers", receivers,
	)
	return nil
}
