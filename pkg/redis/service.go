package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var ErrKeyNotExist = redis.Nil

type RedisServiceInterface interface {
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key string, value string, ttl time.Duration) error
	DelValue(ctx context.Context, key string) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	Push(ctx context.Context, queue string, message interface{}) error
	Pop(ctx context.Context, queue string, timeout time.Duration) (string, error)
}

type RedisService struct {
	client *redis.Client
}

func NewRedisService(config *RedisConfig) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Base().Info("Connected to Redis", zap.String("addr", fmt.Sprintf("%s:%s", config.Host, config.Port)), zap.Int("db", config.DB))
	return &RedisService{
		client: client,
	}, nil
}

// GetValue gets a value from Redis by key
func (r *RedisService) GetValue(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

// SetValue sets a value in Redis with TTL
func (r *RedisService) SetValue(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// DelValue deletes a value from Redis by key
func (r *RedisService) DelValue(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// ScanKeys walks the keyspace with SCAN and returns every key matching pattern.
func (r *RedisService) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %q: %w", pattern, err)
	}
	return keys, nil
}

// Push appends a JSON-encoded message to the queue list
func (r *RedisService) Push(ctx context.Context, queue string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.LPush(ctx, queue, data).Err()
}

// Pop blocks up to timeout for the oldest message in the queue. It returns ErrKeyNotExist when none arrived.
func (r *RedisService) Pop(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	res, err := r.client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		return "", err
	}
	return res[1], nil
}

// Close releases the underlying client.
func (r *RedisService) Close() error {
	return r.client.Close()
}
