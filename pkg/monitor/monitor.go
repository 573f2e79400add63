package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"NotifyHub/pkg/logger"
)

const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus 健康状态
type HealthStatus struct {
	Component   string    `json:"component"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Message     string    `json:"message,omitempty"`
}

// CheckFunc 组件探活，返回nil表示健康
type CheckFunc func(ctx context.Context) error

// Monitor 监控系统
type Monitor struct {
	components map[string]*HealthStatus
	checks     map[string]CheckFunc
	mutex      sync.RWMutex
	alertFunc  func(component, status, message string)
}

// NewMonitor 创建新的监控系统，alertFunc 在组件变为不健康时调用，可为nil
func NewMonitor(alertFunc func(component, status, message string)) *Monitor {
	return &Monitor{
		components: make(map[string]*HealthStatus),
		checks:     make(map[string]CheckFunc),
		alertFunc:  alertFunc,
	}
}

// RegisterComponent 注册组件及其探活函数
func (m *Monitor) RegisterComponent(component string, check CheckFunc) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.components[component] = &HealthStatus{
		Component:   component,
		Status:      StatusUnknown,
		LastChecked: time.Now(),
	}
	if check != nil {
		m.checks[component] = check
	}
}

// UpdateStatus 更新组件状态
func (m *Monitor) UpdateStatus(component, status, message string) {
	m.mutex.Lock()
	current, exists := m.components[component]
	if !exists {
		current = &HealthStatus{Component: component}
		m.components[component] = current
	}
	oldStatus := current.Status
	current.Status = status
	current.LastChecked = time.Now()
	current.Message = message
	alert := m.alertFunc
	m.mutex.Unlock()

	// 状态变为不健康时触发告警
	if oldStatus != status && status != StatusHealthy && alert != nil {
		alert(component, status, message)
	}
}

// GetStatus 获取组件状态
func (m *Monitor) GetStatus(component string) *HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if status, exists := m.components[component]; exists {
		copied := *status
		return &copied
	}
	return nil
}

// GetAllStatus 获取所有组件状态，按组件名排序
func (m *Monitor) GetAllStatus() []HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	statuses := make([]HealthStatus, 0, len(m.components))
	for _, status := range m.components {
		statuses = append(statuses, *status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Component < statuses[j].Component
	})
	return statuses
}

// CheckAll 依次执行所有探活函数，每个探活使用独立超时
func (m *Monitor) CheckAll(ctx context.Context, timeout time.Duration) {
	m.mutex.RLock()
	checks := make(map[string]CheckFunc, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mutex.RUnlock()

	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := check(checkCtx)
		cancel()

		if err != nil {
			logger.WithField("component", name).WithError(err).Warn("组件探活失败")
			m.UpdateStatus(name, StatusUnhealthy, err.Error())
			continue
		}
		m.UpdateStatus(name, StatusHealthy, "")
	}
}

// Ready 所有组件都健康时返回true，未探活过的组件视为未就绪
func (m *Monitor) Ready() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, status := range m.components {
		if status.Status != StatusHealthy {
			return false
		}
	}
	return true
}
