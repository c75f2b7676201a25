package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"shopledger/backend/internal/domain"
)

const (
	productKeyPrefix = "product:barcode:"
	settingsKey      = "settings"
)

type RedisLookupCache struct {
	client *redis.Client
}

func NewRedisLookupCache(addr string, password string, db int) *RedisLookupCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisLookupCache{client: client}
}

func (c *RedisLookupCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisLookupCache) Close() error {
	return c.client.Close()
}

func (c *RedisLookupCache) GetProduct(ctx context.Context, barcode string) (*domain.Product, bool, error) {
	var product domain.Product
	found, err := c.get(ctx, productKeyPrefix+barcode, &product)
	if err != nil || !found {
		return nil, false, err
	}
	return &product, true, nil
}

func (c *RedisLookupCache) SetProduct(ctx context.Context, barcode string, product *domain.Product, ttl time.Duration) error {
	if product == nil {
		return nil
	}
	return c.set(ctx, productKeyPrefix+barcode, product, ttl)
}

func (c *RedisLookupCache) InvalidateProduct(ctx context.Context, barcode string) error {
	return c.client.Del(ctx, productKeyPrefix+barcode).Err()
}

func (c *RedisLookupCache) GetSettings(ctx context.Context) (*domain.Settings, bool, error) {
	var settings domain.Settings
	found, err := c.get(ctx, settingsKey, &settings)
	if err != nil || !found {
		return nil, false, err
	}
	return &settings, true, nil
}

func (c *RedisLookupCache) SetSettings(ctx context.Context, settings *domain.Settings, ttl time.Duration) error {
	if settings == nil {
		return nil
	}
	return c.set(ctx, settingsKey, settings, ttl)
}

func (c *RedisLookupCache) InvalidateSettings(ctx context.Context) error {
	return c.client.Del(ctx, settingsKey).Err()
}

func (c *RedisLookupCache) get(ctx context.Context, key string, dest any) (bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisLookupCache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
