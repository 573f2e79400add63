package main

import (
	"context"
	"time"

	"NotifyHub/pkg/api"
	"NotifyHub/pkg/bootstrap"
	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/messaging"
	"NotifyHub/pkg/monitor"
	"NotifyHub/pkg/registry"
	"NotifyHub/pkg/scheduler"
	"NotifyHub/pkg/service"
	"NotifyHub/pkg/worker"
)

func main() {
	cfg, err := bootstrap.Load()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	logger.Infof("启动API服务... instance=%s", cfg.App.InstanceID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	startCtx, startCancel := context.WithTimeout(ctx, time.Minute)
	db, err := bootstrap.OpenDatabase(startCtx, cfg)
	startCancel()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer db.Close()

	// 工作队列首次使用时连接
	queue, queueCheck := bootstrap.NewQueue(cfg, "api")
	defer queue.Close()

	// 创建监控系统
	mon := monitor.NewMonitor(func(component, status, message string) {
		logger.WithField("component", component).Warnf("告警: 状态变为[%s], 消息: %s", status, message)
	})
	mon.RegisterComponent("database", db.Ping)
	mon.RegisterComponent("queue", queueCheck)

	// 连接注册表；启用redis时经由redis广播到所有实例，实时主题只需被消费一次
	reg := registry.New()
	var broadcaster registry.Broadcaster = reg
	fanoutConsumer := "fanout-" + cfg.App.InstanceID
	if cfg.Redis.Enabled {
		rdb := bootstrap.NewRedisClient(cfg)
		defer rdb.Close()
		bridge := registry.NewRedisBridge(rdb, cfg.Redis.Channel, reg)
		go bootstrap.RunBridge(ctx, bridge, messaging.Backoff{Base: cfg.NATS.ReconnectBase, Max: cfg.NATS.ReconnectMax})
		mon.RegisterComponent("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		broadcaster = bridge
		fanoutConsumer = "fanout"
	}

	if err := worker.NewFanoutWorker(queue, broadcaster, fanoutConsumer).Start(); err != nil {
		logger.Fatalf("启动推送worker失败: %v", err)
	}
	if cfg.Workers.EmbeddedPersistence {
		w := worker.NewPersistenceWorker(queue, db.Notification(), cfg.Workers.PersistenceConcurrency, cfg.Queue.EnqueueTimeout)
		if err := w.Start(); err != nil {
			logger.Fatalf("启动持久化worker失败: %v", err)
		}
	}

	gateway := service.NewGateway(queue, cfg.Queue.EnqueueTimeout)
	if cfg.Gateway.RequireExistingUser {
		gateway.RequireExistingUser(db.User())
	}

	// 创建API处理程序
	handlers := api.NewHandlers(
		gateway,
		service.NewNotificationService(db.Notification(), queue, cfg.Queue.EnqueueTimeout),
		service.NewUserService(db.User()),
		reg,
		mon,
		api.StreamOptions{Buffer: cfg.API.StreamBuffer, Heartbeat: cfg.API.HeartbeatInterval},
	)

	// 定时探活与连接统计
	sched := scheduler.NewScheduler(mon, reg).WithUserCounter(db.User())
	if err := sched.Start(cfg.Scheduler.HealthCheck, cfg.Scheduler.Stats); err != nil {
		logger.Fatalf("启动调度器失败: %v", err)
	}
	defer sched.Stop()

	// 创建并启动服务器
	server := api.NewServer(api.ServerOptions{
		Port:         cfg.API.Port,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		JWTSecret:    cfg.API.JWTSecret,
	})
	server.SetupRoutes(handlers)
	errCh := server.Start()

	// 等待中断信号或监听失败
	sigCh := make(chan struct{})
	go func() {
		sig := bootstrap.WaitForSignal()
		logger.Infof("收到信号 %s", sig)
		close(sigCh)
	}()
	select {
	case err := <-errCh:
		if err != nil {
			logger.Errorf("启动服务器失败: %v", err)
		}
	case <-sigCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}
	logger.Infof("API服务已退出")
}
