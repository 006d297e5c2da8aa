package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/tumbledice/backend/go/internal/v1/logging"
	"github.com/tumbledice/backend/go/internal/v1/metrics"
	"github.com/tumbledice/backend/go/internal/v1/types"
)

// storeKey holds the serialized aggregate. Versioned so a future layout
// change can migrate on read instead of corrupting old blobs.
const storeKey = "tumble:store:v1"

// RedisAdapter persists the aggregate as a single JSON blob. Writes and reads
// go through a circuit breaker so a Redis outage degrades to memory-only
// operation instead of stalling the writer lock's callers.
type RedisAdapter struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewRedisAdapter connects, verifies the connection with a ping, and wires
// breaker state into metrics.
func NewRedisAdapter(addr, password string) (*RedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(ctx, "connected to Redis store backend", zap.String("addr", addr))
	return &RedisAdapter{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Client exposes the underlying connection for shared consumers, e.g. the
// rate limiter store.
func (r *RedisAdapter) Client() *redis.Client { return r.client }

// Load reads and decodes the aggregate blob. A missing key returns (nil, nil)
// so first boot starts from an empty world.
func (r *RedisAdapter) Load(ctx context.Context) (*types.StoreData, error) {
	res, err := r.cb.Execute(func() (interface{}, error) {
		raw, err := r.client.Get(ctx, storeKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil, types.ErrAdapterUnavailable
		}
		return nil, fmt.Errorf("redis load: %w", err)
	}
	if res == nil {
		return nil, nil
	}

	data := types.NewStoreData()
	if err := json.Unmarshal(res.([]byte), data); err != nil {
		return nil, fmt.Errorf("redis load decode: %w", err)
	}
	return data, nil
}

// Save encodes and writes the aggregate blob. With an open breaker the save
// is dropped; the caller already logged in-memory state as authoritative.
func (r *RedisAdapter) Save(ctx context.Context, data *types.StoreData) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode store blob: %w", err)
		}
		return nil, r.client.Set(ctx, storeKey, raw, 0).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "redis circuit breaker open: dropping store save")
			return types.ErrAdapterUnavailable
		}
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

// Ping checks connectivity through the breaker for health probes.
func (r *RedisAdapter) Ping(ctx context.Context) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.client.Ping(ctx).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close shuts down the client connection pool.
func (r *RedisAdapter) Close() error {
	return r.client.Close()
}
