package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"NotifyHub/pkg/config"
	"NotifyHub/pkg/database"
	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/messaging"
	"NotifyHub/pkg/monitor"
	"NotifyHub/pkg/registry"
)

// Load 加载配置并初始化日志，配置路径取自 CONFIG_PATH
func Load() (*config.Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}
	if _, err := os.Stat(configPath); err != nil {
		// 没有配置文件时只使用默认值与环境变量
		configPath = ""
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if err := logger.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpenDatabase 连接数据库并迁移，失败时按退避重试直到 ctx 结束
func OpenDatabase(ctx context.Context, cfg *config.Config) (*database.Database, error) {
	backoff := messaging.Backoff{Base: cfg.NATS.ReconnectBase, Max: cfg.NATS.ReconnectMax}
	for attempt := 1; ; attempt++ {
		db, err := database.Open(cfg.Database)
		if err == nil {
			if err = db.Migrate(); err == nil {
				return db, nil
			}
			_ = db.Close()
		}

		delay := backoff.Delay(attempt)
		logger.WithError(err).Warnf("连接数据库失败，%v 后重试(第%d次)", delay, attempt)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		case <-time.After(delay):
		}
	}
}

// NewQueue 按配置创建工作队列，同时返回队列的探活函数
func NewQueue(cfg *config.Config, role string) (messaging.Queue, monitor.CheckFunc) {
	if cfg.Queue.Driver == "memory" {
		logger.Warnf("使用进程内队列，仅适用于单实例开发环境")
		return messaging.NewMemoryQueue(), func(context.Context) error { return nil }
	}

	client := messaging.NewNATSClient(cfg.NATS.URL, messaging.NATSOptions{
		ClientID:       fmt.Sprintf("%s-%s-%s", cfg.NATS.ClientID, role, cfg.App.InstanceID),
		Backoff:        messaging.Backoff{Base: cfg.NATS.ReconnectBase, Max: cfg.NATS.ReconnectMax},
		RealtimeMaxAge: cfg.Queue.RealtimeMaxAge,
	})
	return client, client.Ping
}

// NewRedisClient 创建redis客户端，不立即连接
func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// RunBridge 运行redis桥接，订阅中断后按退避重新订阅，直到 ctx 结束
func RunBridge(ctx context.Context, bridge *registry.RedisBridge, backoff messaging.Backoff) {
	for attempt := 1; ; attempt++ {
		err := bridge.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		delay := backoff.Delay(attempt)
		logger.WithError(err).Warnf("redis桥接中断，%v 后重试", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// WaitForSignal 阻塞直到收到中断信号
func WaitForSignal() os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return <-sigChan
}
