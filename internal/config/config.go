package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath 指定配置文件路径。
	EnvConfigPath     = "TASKPULSE_CONFIG"
	// DefaultConfigPath 是未设置 EnvConfigPath 时使用的路径。
	DefaultConfigPath = "configs/taskpulse.yaml"

	envAddress   = "TASKPULSE_ADDRESS"
	envMongoURI  = "TASKPULSE_MONGO_URI"
	envMySQLDSN  = "TASKPULSE_MYSQL_DSN"
	envJWTSecret = "TASKPULSE_JWT_SECRET"
)

// Config 描述了 TaskPulse 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Events  EventsConfig  `json:"events" yaml:"events"`
	Auth    AuthConfig    `json:"auth" yaml:"auth"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                  string   `json:"address" yaml:"address"`
	CORSOrigins              []string `json:"cors_origins" yaml:"cors_origins"`
	ReadHeaderTimeoutSeconds int      `json:"read_header_timeout_seconds" yaml:"read_header_timeout_seconds"`
}

// ReadHeaderTimeout 返回读取请求头的超时时间。
func (c ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
}

// StorageConfig 选择任务与用户的存储后端。
type StorageConfig struct {
	// Driver 取值 memory、mongo 或 mysql。
	Driver string      `json:"driver" yaml:"driver"`
	Mongo  MongoConfig `json:"mongo" yaml:"mongo"`
	MySQL  MySQLConfig `json:"mysql" yaml:"mysql"`
}

// MongoConfig 描述 MongoDB 连接。
type MongoConfig struct {
	URI            string `json:"uri" yaml:"uri"`
	Database       string `json:"database" yaml:"database"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// MySQLConfig 描述 MySQL 连接池。
type MySQLConfig struct {
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
}

// EventsConfig 选择任务事件的发布方式。
type EventsConfig struct {
	// Driver 取值 none、memory、redis 或 rabbitmq。
	Driver   string         `json:"driver" yaml:"driver"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisConfig 描述事件列表所在的 Redis。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Key      string `json:"key" yaml:"key"`
}

// RabbitMQConfig 描述事件队列。
type RabbitMQConfig struct {
	URL     string `json:"url" yaml:"url"`
	Queue   string `json:"queue" yaml:"queue"`
	Durable bool   `json:"durable" yaml:"durable"`
}

// AuthConfig 控制令牌签发与密码哈希。
type AuthConfig struct {
	JWT        JWTConfig `json:"jwt" yaml:"jwt"`
	BcryptCost int       `json:"bcrypt_cost" yaml:"bcrypt_cost"`
}

// JWTConfig 描述 HS256 令牌参数。密钥优先从 SecretEnv 指定的环境变量读取。
type JWTConfig struct {
	Secret           string `json:"secret" yaml:"secret"`
	SecretEnv        string `json:"secret_env" yaml:"secret_env"`
	Issuer           string `json:"issuer" yaml:"issuer"`
	AccessTTLSeconds int    `json:"access_ttl_seconds" yaml:"access_ttl_seconds"`
}

// AccessTTL 返回令牌有效期。
func (c JWTConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLSeconds) * time.Second
}

// LoggingConfig 控制应用日志与审计日志。
type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Format  string      `json:"format" yaml:"format"`
	Outputs []string    `json:"outputs" yaml:"outputs"`
	Audit   AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// PathFromEnv 返回配置文件路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultConfigPath
}

// Load 解析指定路径的 JSON 或 YAML 配置文件。文件不存在时使用默认配置，
// 之后统一应用环境变量覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	default:
		if err := decode(path, content, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("解析 JSON 配置失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s", path)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envAddress); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv(envMongoURI); v != "" {
		c.Storage.Mongo.URI = v
	}
	if v := os.Getenv(envMySQLDSN); v != "" {
		c.Storage.MySQL.DSN = v
	}
	secretEnv := c.Auth.JWT.SecretEnv
	if secretEnv == "" {
		secretEnv = envJWTSecret
	}
	if v := os.Getenv(secretEnv); v != "" {
		c.Auth.JWT.Secret = v
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		c.Server.ReadHeaderTimeoutSeconds = 5
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = "taskpulse"
	}
	if c.Storage.Mongo.TimeoutSeconds <= 0 {
		c.Storage.Mongo.TimeoutSeconds = 5
	}

	c.Events.Driver = strings.ToLower(strings.TrimSpace(c.Events.Driver))
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}

	if c.Auth.JWT.SecretEnv == "" {
		c.Auth.JWT.SecretEnv = envJWTSecret
	}
	if c.Auth.JWT.Issuer == "" {
		c.Auth.JWT.Issuer = "taskpulse"
	}
	if c.Auth.JWT.AccessTTLSeconds <= 0 {
		c.Auth.JWT.AccessTTLSeconds = int((24 * time.Hour).Seconds())
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
		} else if !filepath.IsAbs(c.Logging.Audit.Path) {
			c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
		}
	}
}

// Validate 检查驱动取值与所选驱动必需的连接参数。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mongo":
		if c.Storage.Mongo.URI == "" {
			return errors.New("storage.mongo.uri 不能为空")
		}
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			return errors.New("storage.mysql.dsn 不能为空")
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}

	switch c.Events.Driver {
	case "none", "memory":
	case "redis":
		if c.Events.Redis.Address == "" {
			return errors.New("events.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("events.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}
	return nil
}
