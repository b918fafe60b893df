package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	tasksCollection = "tasks"
	usersCollection = "users"

	defaultTimeout = 5 * time.Second
)

// Config 描述 MongoDB 连接参数。
type Config struct {
	URI      string
	Database string
	// Timeout 限制单次操作的耗时。
	Timeout time.Duration
}

// operationTimeout 在未配置超时时回退到 defaultTimeout。
func operationTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultTimeout
	}
	return timeout
}

// Connect 连接 MongoDB、检查主节点可用并创建所需索引。
func Connect(ctx context.Context, cfg Config) (*mongo.Database, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("MongoDB URI 不能为空")
	}
	name := cfg.Database
	if name == "" {
		name = "taskpulse"
	}
	timeout := operationTimeout(cfg.Timeout)

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI).SetTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("连接 MongoDB 失败: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("无法连接到 MongoDB: %w", err)
	}

	db := client.Database(name)
	if err := ensureIndexes(connectCtx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return db, nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(tasksCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "user", Value: 1}, {Key: "priority", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("创建 tasks 索引失败: %w", err)
	}
	_, err = db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("创建 users 索引失败: %w", err)
	}
	return nil
}

func disconnect(client *mongo.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return client.Disconnect(ctx)
}
