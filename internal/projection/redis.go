package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	ordersKeyPrefix    = "cqrs:orders_by_client:"
	watermarkKeyPrefix = "cqrs:watermark:"
)

// RedisReadModel stores projection documents in Redis, one JSON document
// per client under cqrs:orders_by_client:<client_id>, the same keyspace the
// rest of the platform queries.
type RedisReadModel struct {
	client *redis.Client
}

var _ ReadModelStore = (*RedisReadModel)(nil)

func NewRedisReadModel(addr string) *RedisReadModel {
	return &RedisReadModel{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Ping verifies the connection at startup.
func (r *RedisReadModel) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisReadModel) Close() error { return r.client.Close() }

func (r *RedisReadModel) GetOrdersByClient(ctx context.Context, clientID string) (ClientOrders, bool, error) {
	raw, err := r.client.Get(ctx, ordersKeyPrefix+clientID).Result()
	if err == redis.Nil {
		return ClientOrders{}, false, nil
	}
	if err != nil {
		return ClientOrders{}, false, fmt.Errorf("readmodel redis: get %s: %w", clientID, err)
	}

	var doc ClientOrders
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ClientOrders{}, false, fmt.Errorf("readmodel redis: decode %s: %w", clientID, err)
	}
	return doc, true, nil
}

func (r *RedisReadModel) PutOrdersByClient(ctx context.Context, doc ClientOrders) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("readmodel redis: encode %s: %w", doc.ClientID, err)
	}
	if err := r.client.Set(ctx, ordersKeyPrefix+doc.ClientID, raw, 0).Err(); err != nil {
		return fmt.Errorf("readmodel redis: put %s: %w", doc.ClientID, err)
	}
	return nil
}

func (r *RedisReadModel) Watermark(ctx context.Context, stream string) (int64, error) {
	raw, err := r.client.Get(ctx, watermarkKeyPrefix+stream).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("readmodel redis: watermark %s: %w", stream, err)
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("readmodel redis: parse watermark %s: %w", stream, err)
	}
	return seq, nil
}

func (r *RedisReadModel) SetWatermark(ctx context.Context, stream string, sequence int64) error {
	if err := r.client.Set(ctx, watermarkKeyPrefix+stream, strconv.FormatInt(sequence, 10), 0).Err(); err != nil {
		return fmt.Errorf("readmodel redis: set watermark %s: %w", stream, err)
	}
	return nil
}
