package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// PositionCache implements domain.PositionCache on a single hash,
// {namespace}:positions, mapping instrument -> position state.
type PositionCache struct {
	rdb *redis.Client
	key string
}

// NewPositionCache creates a PositionCache backed by the given Client.
func NewPositionCache(c *Client) *PositionCache {
	return &PositionCache{rdb: c.rdb, key: c.ks.key("positions")}
}

// SetPosition records the position state of instrument.
func (pc *PositionCache) SetPosition(ctx context.Context, instrument string, state domain.PositionState) error {
	if err := pc.rdb.HSet(ctx, pc.key, instrument, string(state)).Err(); err != nil {
		return fmt.Errorf("redis: set position %s: %w", instrument, err)
	}
	return nil
}

// GetPosition returns the recorded state, or domain.ErrNotFound.
func (pc *PositionCache) GetPosition(ctx context.Context, instrument string) (domain.PositionState, error) {
	v, err := pc.rdb.HGet(ctx, pc.key, instrument).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Flat, domain.ErrNotFound
	}
	if err != nil {
		return domain.Flat, fmt.Errorf("redis: get position %s: %w", instrument, err)
	}
	state, err := domain.ParsePositionState(v)
	if err != nil {
		return domain.Flat, fmt.Errorf("redis: get position %s: %w", instrument, err)
	}
	return state, nil
}

// Compile-time interface check.
var _ domain.PositionCache = (*PositionCache)(nil)
