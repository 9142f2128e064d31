package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// BookCache implements domain.BookCache with one sorted set and one size
// hash per side.
//
// Key schema, under the client namespace:
//
//	book:{instrument}:bids      - sorted set of bid prices (score = price)
//	book:{instrument}:asks      - sorted set of ask prices (score = price)
//	book:{instrument}:bid:size  - hash price -> volume
//	book:{instrument}:ask:size  - hash price -> volume
//	book:{instrument}:meta      - hash with "ts" (unix nanos)
type BookCache struct {
	rdb *redis.Client
	ks  keyspace
	ttl time.Duration
}

// NewBookCache creates a BookCache. A non-zero ttl expires books that stop
// being refreshed.
func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	return &BookCache{rdb: c.rdb, ks: c.ks, ttl: ttl}
}

// bookKeys returns the bids, asks, bid size, ask size and meta keys.
func (ks keyspace) bookKeys(instrument string) [5]string {
	return [5]string{
		ks.key("book", instrument, "bids"),
		ks.key("book", instrument, "asks"),
		ks.key("book", instrument, "bid", "size"),
		ks.key("book", instrument, "ask", "size"),
		ks.key("book", instrument, "meta"),
	}
}

// SetSnapshot atomically replaces the stored book for snap.Instrument.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	keys := bc.ks.bookKeys(snap.Instrument)

	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, keys[:]...)
	writeSide(ctx, pipe, keys[0], keys[2], snap.Bids)
	writeSide(ctx, pipe, keys[1], keys[3], snap.Asks)
	pipe.HSet(ctx, keys[4], "ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10))
	if bc.ttl > 0 {
		for _, k := range keys {
			pipe.Expire(ctx, k, bc.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", snap.Instrument, err)
	}
	return nil
}

func writeSide(ctx context.Context, pipe redis.Pipeliner, zKey, hKey string, levels []domain.PriceLevel) {
	for _, lvl := range levels {
		p := lvl.Price.String()
		pipe.ZAdd(ctx, zKey, redis.Z{Score: lvl.Price.InexactFloat64(), Member: p})
		pipe.HSet(ctx, hKey, p, lvl.Volume.String())
	}
}

// GetSnapshot reads the stored book. It returns domain.ErrNotFound when no
// book was written for instrument.
func (bc *BookCache) GetSnapshot(ctx context.Context, instrument string) (domain.BookSnapshot, error) {
	keys := bc.ks.bookKeys(instrument)
	pipe := bc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRange(ctx, keys[0], 0, -1)
	asksCmd := pipe.ZRange(ctx, keys[1], 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, keys[2])
	askSizeCmd := pipe.HGetAll(ctx, keys[3])
	metaCmd := pipe.HGetAll(ctx, keys[4])

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book %s: %w", instrument, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}

	snap := domain.BookSnapshot{Instrument: instrument}
	if ns, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		snap.Timestamp = time.Unix(0, ns).UTC()
	}

	bids, err := readSide(bidsCmd.Val(), bidSizeCmd.Val())
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book %s bids: %w", instrument, err)
	}
	asks, err := readSide(asksCmd.Val(), askSizeCmd.Val())
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book %s asks: %w", instrument, err)
	}
	snap.Bids, snap.Asks = bids, asks
	return snap, nil
}

func readSide(prices []string, sizes map[string]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(prices))
	for _, p := range prices {
		price, err := decimal.NewFromString(p)
		if err != nil {
			return nil, err
		}
		vol, err := decimal.NewFromString(sizes[p])
		if err != nil {
			return nil, fmt.Errorf("volume at %s: %w", p, err)
		}
		out = append(out, domain.PriceLevel{Price: price, Volume: vol})
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
