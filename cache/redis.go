package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"rssi-haptics/models"

	"github.com/go-redis/redis/v8"
)

const DefaultSnapshotTTL = 5 * time.Minute

type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(ctx context.Context, addr string, ttl time.Duration) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     50,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}

	return &RedisClient{
		client: rdb,
		ttl:    ttl,
	}, nil
}

func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func key(targetID string) string {
	return "proximity:" + targetID
}

func (rc *RedisClient) SaveAnalysis(ctx context.Context, targetID string, result models.AnalysisResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return rc.client.Set(ctx, key(targetID), data, rc.ttl).Err()
}

// GetAnalysis returns nil without error when no snapshot exists.
func (rc *RedisClient) GetAnalysis(ctx context.Context, targetID string) (*models.AnalysisResult, error) {
	val, err := rc.client.Get(ctx, key(targetID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(val, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (rc *RedisClient) DeleteAnalysis(ctx context.Context, targetID string) error {
	return rc.client.Del(ctx, key(targetID)).Err()
}
