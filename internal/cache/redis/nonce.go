package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// NonceStore implements domain.NonceStore with SET NX.
type NonceStore struct {
	c *Client
}

var _ domain.NonceStore = (*NonceStore)(nil)

// NewNonceStore creates a NonceStore.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{c: c}
}

// Claim marks key as used for ttl.
func (n *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := n.c.rdb.SetNX(ctx, n.c.key("nonce", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce: %w", err)
	}
	return ok, nil
}
