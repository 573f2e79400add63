package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/monitor"
	"NotifyHub/pkg/registry"
)

// StatsSource 提供连接注册表统计
type StatsSource interface {
	Stats() registry.Stats
}

// ActiveUserCounter 统计活跃用户数
type ActiveUserCounter interface {
	GetActiveCount(ctx context.Context) (int64, error)
}

// Scheduler 任务调度器
type Scheduler struct {
	cron    *cron.Cron
	monitor *monitor.Monitor
	stats   StatsSource
	users   ActiveUserCounter
	timeout time.Duration
}

// NewScheduler 创建任务调度器，stats 可为nil（仅运行持久化worker的进程）
func NewScheduler(m *monitor.Monitor, stats StatsSource) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		monitor: m,
		stats:   stats,
		timeout: 3 * time.Second,
	}
}

// WithUserCounter 统计任务同时输出活跃用户数
func (s *Scheduler) WithUserCounter(users ActiveUserCounter) *Scheduler {
	s.users = users
	return s
}

// Start 按配置的表达式注册任务并启动，表达式为空的任务不注册
func (s *Scheduler) Start(healthSpec, statsSpec string) error {
	if healthSpec != "" {
		if _, err := s.cron.AddFunc(healthSpec, s.checkHealth); err != nil {
			return fmt.Errorf("注册健康检查任务失败: %w", err)
		}
	}
	if statsSpec != "" && s.stats != nil {
		if _, err := s.cron.AddFunc(statsSpec, s.reportStats); err != nil {
			return fmt.Errorf("注册统计任务失败: %w", err)
		}
	}

	// 启动时先探活一次，/ready 不必等第一个周期
	s.checkHealth()
	s.cron.Start()
	return nil
}

// Stop 停止调度器并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// checkHealth 检查各组件健康状态
func (s *Scheduler) checkHealth() {
	s.monitor.CheckAll(context.Background(), s.timeout)
}

// reportStats 输出在线连接统计
func (s *Scheduler) reportStats() {
	stats := s.stats.Stats()
	fields := map[string]any{
		"connections": stats.Connections,
		"groups":      stats.Groups,
		"memberships": stats.Memberships,
	}
	if s.users != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if n, err := s.users.GetActiveCount(ctx); err != nil {
			logger.WithError(err).Warn("查询活跃用户数失败")
		} else {
			fields["activeUsers"] = n
		}
	}
	logger.WithFields(fields).Info("在线连接统计")
}
