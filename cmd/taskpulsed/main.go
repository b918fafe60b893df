package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TaskPulse/internal/api"
	"TaskPulse/internal/auth"
	"TaskPulse/internal/config"
	"TaskPulse/internal/storage/mongo"
	"TaskPulse/internal/storage/mysql"
	"TaskPulse/internal/task"
	"TaskPulse/pkg/logger"
)

// main 是 TaskPulse 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("taskpulsed 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Service:     "taskpulsed",
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()
	daemonLog := logger.Named("daemon")

	taskStore, userStore, err := openStores(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	publisher, err := openPublisher(ctx, cfg.Events)
	if err != nil {
		_ = taskStore.Close()
		_ = userStore.Close()
		return err
	}
	if mem, ok := publisher.(*task.MemoryPublisher); ok {
		go logEvents(mem, daemonLog)
	}

	tasks := task.NewService(taskStore, task.WithPublisher(publisher))
	defer func() {
		if err := tasks.Close(); err != nil {
			daemonLog.Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	authSvc, err := auth.NewService(auth.Config{
		JWT: auth.JWTOptions{
			Secret:    cfg.Auth.JWT.Secret,
			Issuer:    cfg.Auth.JWT.Issuer,
			AccessTTL: cfg.Auth.JWT.AccessTTL(),
		},
		BcryptCost: cfg.Auth.BcryptCost,
	}, userStore)
	if err != nil {
		_ = userStore.Close()
		return err
	}
	defer func() {
		if err := authSvc.Close(); err != nil {
			daemonLog.Warn("关闭认证服务失败", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.Server.Address, tasks, authSvc,
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout()),
	)
	daemonLog.Info("TaskPulse 启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("events", cfg.Events.Driver),
	)

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	daemonLog.Info("TaskPulse 已停止")
	return nil
}

// openStores 按驱动创建任务与用户存储，两者共享同一个连接，由任务存储负责关闭。
func openStores(ctx context.Context, cfg config.StorageConfig) (task.Store, auth.Store, error) {
	switch cfg.Driver {
	case "memory":
		return task.NewMemoryStore(), auth.NewMemoryStore(), nil
	case "mongo":
		timeout := time.Duration(cfg.Mongo.TimeoutSeconds) * time.Second
		db, err := mongo.Connect(ctx, mongo.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return mongo.NewTaskStore(db, timeout), mongo.NewUserStore(db, true, timeout), nil
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.MySQL.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return mysql.NewTaskStore(db), mysql.NewUserStore(db, true), nil
	default:
		return nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}

func openPublisher(ctx context.Context, cfg config.EventsConfig) (task.Publisher, error) {
	switch cfg.Driver {
	case "none":
		return task.NopPublisher{}, nil
	case "memory":
		return task.NewMemoryPublisher(256), nil
	case "redis":
		return task.NewRedisPublisher(ctx, task.RedisPublisherConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	case "rabbitmq":
		return task.NewRabbitMQPublisher(task.RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
}

// logEvents 消费内存事件，避免缓冲区写满后阻塞请求。
func logEvents(publisher *task.MemoryPublisher, l *slog.Logger) {
	for event := range publisher.Events() {
		l.Debug("任务事件",
			slog.String("type", string(event.Type)),
			slog.String("task_id", event.TaskID),
			slog.String("user", event.Owner),
		)
	}
}
