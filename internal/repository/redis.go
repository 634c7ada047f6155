package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"captaincrm/internal/config"
	"captaincrm/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "captaincrm:migration:"

func progressKey(kind models.EntityKind) string { return keyPrefix + "progress:" + string(kind) }
func verifyKey(kind models.EntityKind) string   { return keyPrefix + "verify:" + string(kind) }
func lockKey(kind models.EntityKind) string     { return keyPrefix + "lock:" + string(kind) }

// RedisProgressRepository keeps migration progress and verification reports
// as JSON values. Run locks are SETNX keys with a TTL.
type RedisProgressRepository struct {
	client *redis.Client
}

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisProgressRepository(client *redis.Client) *RedisProgressRepository {
	return &RedisProgressRepository{client: client}
}

func (r *RedisProgressRepository) getJSON(ctx context.Context, key string, out any) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	if err := json.Unmarshal(val, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisProgressRepository) setJSON(ctx context.Context, key string, v any) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

// GetProgress returns nil when no run was ever recorded for kind.
func (r *RedisProgressRepository) GetProgress(ctx context.Context, kind models.EntityKind) (*models.ProgressRecord, error) {
	var p models.ProgressRecord
	ok, err := r.getJSON(ctx, progressKey(kind), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (r *RedisProgressRepository) SaveProgress(ctx context.Context, progress *models.ProgressRecord) error {
	return r.setJSON(ctx, progressKey(progress.Kind), progress)
}

func (r *RedisProgressRepository) GetVerifyReport(ctx context.Context, kind models.EntityKind) (*models.VerifyReport, error) {
	var rep models.VerifyReport
	ok, err := r.getJSON(ctx, verifyKey(kind), &rep)
	if err != nil || !ok {
		return nil, err
	}
	return &rep, nil
}

func (r *RedisProgressRepository) SaveVerifyReport(ctx context.Context, report *models.VerifyReport) error {
	return r.setJSON(ctx, verifyKey(report.Kind), report)
}

func (r *RedisProgressRepository) AcquireRunLock(ctx context.Context, kind models.EntityKind, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := r.client.SetNX(ctx, lockKey(kind), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

func (r *RedisProgressRepository) RefreshRunLock(ctx context.Context, kind models.EntityKind, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Expire(ctx, lockKey(kind), ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh run lock: %w", err)
	}
	return nil
}

func (r *RedisProgressRepository) ReleaseRunLock(ctx context.Context, kind models.EntityKind) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, lockKey(kind)).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
