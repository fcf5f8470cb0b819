package grid

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// GridState is the engine checkpoint persisted between restarts so a
// restarted bot can pick up its previous range and open orders.
type GridState struct {
	Symbol       string            `json:"symbol"`
	Low          decimal.Decimal   `json:"low"`
	High         decimal.Decimal   `json:"high"`
	Levels       []decimal.Decimal `json:"levels"`
	ActiveOrders []TrackedOrder    `json:"active_orders,omitempty"`
}

// TrackedOrder is the engine's view of an open grid order.
type TrackedOrder struct {
	OrderID     string          `json:"order_id"`
	OrderLinkID string          `json:"order_link_id,omitempty"`
	Side        string          `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Qty         decimal.Decimal `json:"qty"`
	Level       int             `json:"level"`
}

type GridStateStore interface {
	Load(ctx context.Context, key string) (GridState, bool, error)
	Save(ctx context.Context, key string, state GridState) error
}

type RedisGridStateStore struct {
	client *redis.Client
}

func NewRedisGridStateStore(cacheDSN string) (*RedisGridStateStore, error) {
	if cacheDSN == "" {
		return nil, fmt.Errorf("redis redis_dsn is required")
	}

	options, err := redis.ParseURL(cacheDSN)
	if err != nil {
		return nil, fmt.Errorf("parse redis redis_dsn: %w", err)
	}

	return &RedisGridStateStore{client: redis.NewClient(options)}, nil
}

func GridStateKey(symbol string) string {
	return fmt.Sprintf("gridbot:state:%s", symbol)
}

func (s *RedisGridStateStore) Load(ctx context.Context, key string) (GridState, bool, error) {
	rawState, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return GridState{}, false, nil
		}
		return GridState{}, false, err
	}

	var state GridState
	if err := json.Unmarshal([]byte(rawState), &state); err != nil {
		return GridState{}, false, err
	}

	return state, true, nil
}

func (s *RedisGridStateStore) Save(ctx context.Context, key string, state GridState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, payload, 0).Err()
}

func (s *RedisGridStateStore) Close() error {
	return s.client.Close()
}
