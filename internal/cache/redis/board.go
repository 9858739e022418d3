package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSnapshot is returned when no board has been published yet.
var ErrNoSnapshot = errors.New("redis: no board snapshot")

const boardKey = "board:latest"

// BoardRow is one ticker line on the public price board.
type BoardRow struct {
	Ticker      string  `json:"ticker"`
	Name        string  `json:"name"`
	PriceCents  int64   `json:"price_cents"`
	ChangeCents int64   `json:"change_cents"`
	ChangePct   float64 `json:"change_pct"`
	PctDefined  bool    `json:"pct_defined"`
}

// BoardSnapshot is the full board at one refresh tick.
type BoardSnapshot struct {
	Session     string     `json:"session"`
	Open        bool       `json:"open"`
	Rows        []BoardRow `json:"rows"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// BoardCache stores the latest board snapshot as a single JSON value with a
// short TTL; a stale board is worse than no board.
type BoardCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewBoardCache(c *Client, ttl time.Duration) *BoardCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BoardCache{rdb: c.Underlying(), ttl: ttl}
}

func (b *BoardCache) Set(ctx context.Context, snap BoardSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal board: %w", err)
	}
	if err := b.rdb.Set(ctx, boardKey, raw, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set board: %w", err)
	}
	return nil
}

func (b *BoardCache) Get(ctx context.Context) (BoardSnapshot, error) {
	raw, err := b.rdb.Get(ctx, boardKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return BoardSnapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return BoardSnapshot{}, fmt.Errorf("redis: get board: %w", err)
	}
	var snap BoardSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return BoardSnapshot{}, fmt.Errorf("redis: decode board: %w", err)
	}
	return snap, nil
}
