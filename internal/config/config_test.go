package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(envJWTSecret, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address: %q", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.Events.Driver != "none" {
		t.Fatalf("unexpected drivers: %+v %+v", cfg.Storage, cfg.Events)
	}
	if cfg.Auth.JWT.AccessTTL() != 24*time.Hour {
		t.Fatalf("unexpected ttl: %v", cfg.Auth.JWT.AccessTTL())
	}
	if cfg.Server.ReadHeaderTimeout() != 5*time.Second {
		t.Fatalf("unexpected read header timeout: %v", cfg.Server.ReadHeaderTimeout())
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "taskpulse.yaml", `
server:
  address: ":9090"
  cors_origins: ["http://localhost:3000"]
storage:
  driver: MONGO
  mongo:
    uri: mongodb://localhost:27017
events:
  driver: redis
  redis:
    address: localhost:6379
auth:
  jwt:
    secret: from-file
    access_ttl_seconds: 60
logging:
  audit:
    enabled: true
    path: audit/audit.log
`)
	t.Setenv(envJWTSecret, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" || cfg.Server.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.Driver != "mongo" || cfg.Storage.Mongo.Database != "taskpulse" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Auth.JWT.Secret != "from-file" || cfg.Auth.JWT.AccessTTL() != time.Minute {
		t.Fatalf("unexpected jwt config: %+v", cfg.Auth.JWT)
	}
	want := filepath.Join(filepath.Dir(path), "audit", "audit.log")
	if cfg.Logging.Audit.Path != want {
		t.Fatalf("audit path not resolved: got %q want %q", cfg.Logging.Audit.Path, want)
	}
}

func TestLoadJSONWithEnvOverrides(t *testing.T) {
	path := writeFile(t, "taskpulse.json", `{
  "storage": {"driver": "mysql", "mysql": {"dsn": "file-dsn"}},
  "auth": {"jwt": {"secret": "from-file", "secret_env": "CUSTOM_SECRET"}}
}`)
	t.Setenv(envAddress, "127.0.0.1:7000")
	t.Setenv(envMySQLDSN, "env-dsn")
	t.Setenv("CUSTOM_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != "127.0.0.1:7000" {
		t.Fatalf("address override ignored: %q", cfg.Server.Address)
	}
	if cfg.Storage.MySQL.DSN != "env-dsn" {
		t.Fatalf("dsn override ignored: %q", cfg.Storage.MySQL.DSN)
	}
	if cfg.Auth.JWT.Secret != "from-env" {
		t.Fatalf("secret override ignored: %q", cfg.Auth.JWT.Secret)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown storage":      `{"storage": {"driver": "cassandra"}}`,
		"mongo without uri":    `{"storage": {"driver": "mongo"}}`,
		"unknown events":       `{"events": {"driver": "kafka"}}`,
		"rabbitmq without url": `{"events": {"driver": "rabbitmq"}}`,
		"malformed":            `{"server": `,
	}
	t.Setenv(envMongoURI, "")
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "cfg.json", content)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := Load(writeFile(t, "cfg.toml", "")); err == nil {
		t.Fatal("expected unsupported format error")
	}
	if _, err := Load(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if got := PathFromEnv(); got != DefaultConfigPath {
		t.Fatalf("unexpected default path: %q", got)
	}
	t.Setenv(EnvConfigPath, "/etc/taskpulse.json")
	if got := PathFromEnv(); got != "/etc/taskpulse.json" {
		t.Fatalf("unexpected path: %q", got)
	}
}
