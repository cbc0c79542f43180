package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/rl1809/fish-market/internal/core/domain"
	"github.com/rl1809/fish-market/internal/port"
)

const cartKeyPrefix = "cart:"

// RedisCartCache caches carts as JSON. Calls go through a circuit breaker
// so a failing Redis is skipped quickly and reads fall back to the store.
type RedisCartCache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	baseTTL time.Duration
}

func NewRedisCartCache(client *redis.Client, logger *zap.Logger) *RedisCartCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "cart-cache",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, port.ErrCacheMiss)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &RedisCartCache{
		client:  client,
		breaker: breaker,
		baseTTL: 15 * time.Minute,
	}
}

func (r *RedisCartCache) Get(ctx context.Context, customerID string) (*domain.Cart, error) {
	data, err := r.breaker.Execute(func() ([]byte, error) {
		data, err := r.client.Get(ctx, cartKey(customerID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, port.ErrCacheMiss
		}
		return data, err
	})
	if err != nil {
		if errors.Is(err, port.ErrCacheMiss) {
			return nil, err
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &cart, nil
}

func (r *RedisCartCache) Set(ctx context.Context, customerID string, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	// jittered so carts cached together do not expire together
	ttl := r.baseTTL + time.Duration(rand.Intn(5))*time.Minute
	_, err = r.breaker.Execute(func() ([]byte, error) {
		return nil, r.client.Set(ctx, cartKey(customerID), data, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCartCache) Delete(ctx context.Context, customerID string) error {
	_, err := r.breaker.Execute(func() ([]byte, error) {
		return nil, r.client.Del(ctx, cartKey(customerID)).Err()
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cartKey(customerID string) string {
	return cartKeyPrefix + customerID
}
