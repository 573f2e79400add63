package main

import (
	"context"
	"time"

	"NotifyHub/pkg/bootstrap"
	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/monitor"
	"NotifyHub/pkg/scheduler"
	"NotifyHub/pkg/worker"
)

func main() {
	cfg, err := bootstrap.Load()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	logger.Infof("启动持久化worker... instance=%s", cfg.App.InstanceID)

	if cfg.Queue.Driver == "memory" {
		logger.Fatalf("独立worker进程需要 nats 队列，进程内队列请使用 workers.embedded_persistence")
	}

	// 连接数据库
	startCtx, startCancel := context.WithTimeout(context.Background(), time.Minute)
	db, err := bootstrap.OpenDatabase(startCtx, cfg)
	startCancel()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer db.Close()

	queue, queueCheck := bootstrap.NewQueue(cfg, "worker")
	defer queue.Close()

	w := worker.NewPersistenceWorker(queue, db.Notification(), cfg.Workers.PersistenceConcurrency, cfg.Queue.EnqueueTimeout)
	if err := w.Start(); err != nil {
		logger.Fatalf("启动持久化worker失败: %v", err)
	}

	mon := monitor.NewMonitor(func(component, status, message string) {
		logger.WithField("component", component).Warnf("告警: 状态变为[%s], 消息: %s", status, message)
	})
	mon.RegisterComponent("database", db.Ping)
	mon.RegisterComponent("queue", queueCheck)

	sched := scheduler.NewScheduler(mon, nil)
	if err := sched.Start(cfg.Scheduler.HealthCheck, ""); err != nil {
		logger.Fatalf("启动调度器失败: %v", err)
	}
	defer sched.Stop()

	// 等待中断信号
	sig := bootstrap.WaitForSignal()
	logger.Infof("收到信号 %s，正在关闭持久化worker...", sig)
}
