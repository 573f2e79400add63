package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("读取yaml并补全默认值", func(t *testing.T) {
		path := writeConfig(t, `
database:
  driver: sqlite
  dbname: notify.db
queue:
  driver: memory
  enqueue_timeout: 500ms
api:
  port: "9090"
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Database.ConnString() != "notify.db" {
			t.Errorf("ConnString() = %q, want %q", cfg.Database.ConnString(), "notify.db")
		}
		if cfg.Queue.EnqueueTimeout != 500*time.Millisecond {
			t.Errorf("EnqueueTimeout = %v, want 500ms", cfg.Queue.EnqueueTimeout)
		}
		if cfg.API.Port != "9090" {
			t.Errorf("API.Port = %q, want 9090", cfg.API.Port)
		}
		if cfg.Workers.PersistenceConcurrency != 4 {
			t.Errorf("PersistenceConcurrency = %d, want 4", cfg.Workers.PersistenceConcurrency)
		}
		if cfg.NATS.ReconnectMax != 10*time.Second {
			t.Errorf("ReconnectMax = %v, want 10s", cfg.NATS.ReconnectMax)
		}
	})

	t.Run("环境变量覆盖文件配置", func(t *testing.T) {
		path := writeConfig(t, `
database:
  driver: sqlite
queue:
  driver: memory
`)
		t.Setenv("NOTIFYHUB_API_PORT", "7000")
		t.Setenv("NOTIFYHUB_DATABASE_DSN", "file:override.db")
		t.Setenv("NOTIFYHUB_QUEUE_ENQUEUE_TIMEOUT", "2s")
		t.Setenv("NOTIFYHUB_WORKERS_PERSISTENCE_CONCURRENCY", "8")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.API.Port != "7000" {
			t.Errorf("API.Port = %q, want 7000", cfg.API.Port)
		}
		if cfg.Database.ConnString() != "file:override.db" {
			t.Errorf("ConnString() = %q", cfg.Database.ConnString())
		}
		if cfg.Queue.EnqueueTimeout != 2*time.Second {
			t.Errorf("EnqueueTimeout = %v, want 2s", cfg.Queue.EnqueueTimeout)
		}
		if cfg.Workers.PersistenceConcurrency != 8 {
			t.Errorf("PersistenceConcurrency = %d, want 8", cfg.Workers.PersistenceConcurrency)
		}
	})

	t.Run("环境变量覆盖推送与调度配置", func(t *testing.T) {
		path := writeConfig(t, `
database:
  driver: sqlite
queue:
  driver: memory
`)
		t.Setenv("NOTIFYHUB_QUEUE_REALTIME_MAX_AGE", "30s")
		t.Setenv("NOTIFYHUB_API_READ_TIMEOUT", "5s")
		t.Setenv("NOTIFYHUB_API_WRITE_TIMEOUT", "7s")
		t.Setenv("NOTIFYHUB_API_STREAM_BUFFER", "64")
		t.Setenv("NOTIFYHUB_API_HEARTBEAT_INTERVAL", "10s")
		t.Setenv("NOTIFYHUB_SCHEDULER_HEALTH_CHECK", "@every 5s")
		t.Setenv("NOTIFYHUB_SCHEDULER_STATS", "@every 2m")
		t.Setenv("NOTIFYHUB_REDIS_CHANNEL", "notify:test")
		t.Setenv("NOTIFYHUB_DATABASE_MAX_OPEN_CONNS", "50")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Queue.RealtimeMaxAge != 30*time.Second {
			t.Errorf("RealtimeMaxAge = %v, want 30s", cfg.Queue.RealtimeMaxAge)
		}
		if cfg.API.ReadTimeout != 5*time.Second || cfg.API.WriteTimeout != 7*time.Second {
			t.Errorf("ReadTimeout = %v, WriteTimeout = %v", cfg.API.ReadTimeout, cfg.API.WriteTimeout)
		}
		if cfg.API.StreamBuffer != 64 || cfg.API.HeartbeatInterval != 10*time.Second {
			t.Errorf("StreamBuffer = %d, HeartbeatInterval = %v", cfg.API.StreamBuffer, cfg.API.HeartbeatInterval)
		}
		if cfg.Scheduler.HealthCheck != "@every 5s" || cfg.Scheduler.Stats != "@every 2m" {
			t.Errorf("Scheduler = %+v", cfg.Scheduler)
		}
		if cfg.Redis.Channel != "notify:test" {
			t.Errorf("Redis.Channel = %q", cfg.Redis.Channel)
		}
		if cfg.Database.MaxOpenConns != 50 {
			t.Errorf("MaxOpenConns = %d, want 50", cfg.Database.MaxOpenConns)
		}
	})

	t.Run("不支持的驱动返回错误", func(t *testing.T) {
		path := writeConfig(t, `
database:
  driver: oracle
`)
		if _, err := LoadConfig(path); err == nil {
			t.Fatal("LoadConfig() 应返回错误")
		}
	})

	t.Run("文件不存在返回错误", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Fatal("LoadConfig() 应返回错误")
		}
	})
}

func TestConnString(t *testing.T) {
	t.Parallel()

	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	if got, want := pg.ConnString(), "host=db port=5432 user=u password=p dbname=n sslmode=disable"; got != want {
		t.Errorf("postgres ConnString() = %q, want %q", got, want)
	}

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", DBName: "n"}
	if got, want := my.ConnString(), "u:p@tcp(db:3306)/n?charset=utf8mb4&parseTime=True&loc=Local"; got != want {
		t.Errorf("mysql ConnString() = %q, want %q", got, want)
	}

	lite := DatabaseConfig{Driver: "sqlite"}
	if got := lite.ConnString(); got != ":memory:" {
		t.Errorf("sqlite ConnString() = %q, want :memory:", got)
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	if got := sanitizeName("api.host 1"); got != "api-host-1" {
		t.Errorf("sanitizeName() = %q, want api-host-1", got)
	}
	if got := sanitizeName(""); got != "local" {
		t.Errorf("sanitizeName(\"\") = %q, want local", got)
	}
}
