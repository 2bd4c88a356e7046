package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/openctemio/membership/pkg/logger"
)

const twoFactorCachePrefix = "membership:2fa"

// TwoFactorCache decorates a user directory with a short-lived cache of
// two-step login status. Cache failures fall back to the directory.
type TwoFactorCache struct {
	client *Client
	next   organization.UserDirectory
	cache  *Cache[bool]
	logger *logger.Logger
}

var _ organization.UserDirectory = (*TwoFactorCache)(nil)

// NewTwoFactorCache creates a new TwoFactorCache.
func NewTwoFactorCache(client *Client, next organization.UserDirectory, ttl time.Duration, log *logger.Logger) (*TwoFactorCache, error) {
	cache, err := NewCache[bool](client, twoFactorCachePrefix, ttl)
	if err != nil {
		return nil, err
	}
	return &TwoFactorCache{
		client: client,
		next:   next,
		cache:  cache,
		logger: log.With("component", "two_factor_cache"),
	}, nil
}

// EmailsByIDs is not cached.
func (c *TwoFactorCache) EmailsByIDs(ctx context.Context, userIDs []shared.ID) (map[shared.ID]string, error) {
	return c.next.EmailsByIDs(ctx, userIDs)
}

// TwoFactorEnabled serves cached statuses and loads the rest from the
// directory, caching what it loaded.
func (c *TwoFactorCache) TwoFactorEnabled(ctx context.Context, userIDs []shared.ID) (map[shared.ID]bool, error) {
	result := make(map[shared.ID]bool, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	keys := shared.Strings(userIDs)
	cached, err := c.cache.MGet(ctx, keys...)
	if err != nil {
		c.logger.Warn("two-factor cache read failed", "error", err)
		cached = nil
	}

	var missing []shared.ID
	for i, id := range userIDs {
		if v, ok := cached[keys[i]]; ok {
			result[id] = *v
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	loaded, err := c.next.TwoFactorEnabled(ctx, missing)
	if err != nil {
		return nil, err
	}
	items := make(map[string]bool, len(loaded))
	for id, enabled := range loaded {
		result[id] = enabled
		items[id.String()] = enabled
	}
	if err := c.cache.MSet(ctx, items); err != nil {
		c.logger.Warn("two-factor cache write failed", "error", err)
	}
	return result, nil
}

// Invalidate drops the cached status of users, e.g. after they change their
// two-step login settings.
func (c *TwoFactorCache) Invalidate(ctx context.Context, userIDs ...shared.ID) error {
	if len(userIDs) == 0 {
		return nil
	}
	return c.cache.Delete(ctx, shared.Strings(userIDs)...)
}

// Listen invalidates the status of every user id published on channel until
// ctx is done. The account service publishes there when a user changes their
// two-step login settings.
func (c *TwoFactorCache) Listen(ctx context.Context, channel string) error {
	if channel == "" {
		return errors.New("channel is required")
	}
	sub := c.client.client.Subscribe(ctx, channel)
	defer func() {
		if err := sub.Close(); err != nil {
			c.logger.Warn("failed to close two-factor subscription", "error", err)
		}
	}()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	c.logger.Info("listening for two-step login changes", "channel", channel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			userID, err := shared.IDFromString(strings.TrimSpace(msg.Payload))
			if err != nil {
				c.logger.Warn("ignoring malformed two-step login change", "payload", msg.Payload)
				continue
			}
			if err := c.Invalidate(ctx, userID); err != nil {
				c.logger.Warn("failed to invalidate two-step login status", "user_id", userID.String(), "error", err)
				continue
			}
			c.logger.Debug("two-step login status invalidated", "user_id", userID.String())
		}
	}
}
