package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/monitor"
	"NotifyHub/pkg/registry"
	"NotifyHub/pkg/service"
)

// StreamOptions 实时推送连接参数
type StreamOptions struct {
	Buffer    int
	Heartbeat time.Duration
}

// Handlers API处理程序
type Handlers struct {
	gateway       *service.Gateway
	notifications *service.NotificationService
	users         *service.UserService
	registry      *registry.Registry
	monitor       *monitor.Monitor
	stream        StreamOptions

	closing   chan struct{}
	closeOnce sync.Once
}

// NewHandlers 创建新的API处理程序
func NewHandlers(
	gateway *service.Gateway,
	notifications *service.NotificationService,
	users *service.UserService,
	reg *registry.Registry,
	mon *monitor.Monitor,
	stream StreamOptions,
) *Handlers {
	if stream.Buffer <= 0 {
		stream.Buffer = 32
	}
	if stream.Heartbeat <= 0 {
		stream.Heartbeat = 25 * time.Second
	}
	return &Handlers{
		gateway:       gateway,
		notifications: notifications,
		users:         users,
		registry:      reg,
		monitor:       mon,
		stream:        stream,
		closing:       make(chan struct{}),
	}
}

// CloseStreams 结束所有推送连接，服务关闭时调用
func (h *Handlers) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// HealthCheck 健康检查处理程序
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// ReadinessCheck 就绪检查处理程序，依赖组件都健康时返回200
func (h *Handlers) ReadinessCheck(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	statuses := h.monitor.GetAllStatus()
	if !h.monitor.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "not_ready",
			"components": statuses,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"components": statuses,
	})
}

// respondError 按错误类型返回状态码，5xx 记录日志
func respondError(c *gin.Context, err error) {
	status := errno.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.WithField("path", c.FullPath()).WithError(err).Error("请求处理失败")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error": err.Error(),
	})
}

// badRequest 请求体绑定失败，统一作为参数校验错误返回
func badRequest(c *gin.Context, err error) {
	respondError(c, bindError(err))
}

func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errno.Validation("无效的请求参数: %v", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	return errno.Validation("字段校验失败: %s", strings.Join(fields, ", "))
}
