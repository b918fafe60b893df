package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisherConfig 描述 Redis 事件列表的连接参数。
type RedisPublisherConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// RedisPublisher 将事件 LPUSH 到 Redis list，下游可通过 BRPOP 消费。
type RedisPublisher struct {
	client redis.Cmdable
	closer func() error
	key    string
}

// NewRedisPublisher 创建 Redis 事件发布器并检查连接。
func NewRedisPublisher(ctx context.Context, cfg RedisPublisherConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisPublisher(client, client.Close, cfg.Key), nil
}

func newRedisPublisher(client redis.Cmdable, closer func() error, key string) *RedisPublisher {
	if key == "" {
		key = "taskpulse:events"
	}
	return &RedisPublisher{client: client, closer: closer, key: key}
}

// Publish 写入一条事件。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("编码任务事件失败: %w", err)
	}
	if err := p.client.LPush(ctx, p.key, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.closer == nil {
		return nil
	}
	return p.closer()
}

var _ Publisher = (*RedisPublisher)(nil)
