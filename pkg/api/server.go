package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"NotifyHub/pkg/logger"
)

// ServerOptions HTTP服务参数
type ServerOptions struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	JWTSecret    string
}

// Server API服务器
type Server struct {
	router *gin.Engine
	srv    *http.Server
	opts   ServerOptions
}

// NewServer 创建新的API服务器
func NewServer(opts ServerOptions) *Server {
	router := gin.New()

	// 设置中间件
	router.Use(Recovery())
	router.Use(AccessLog())

	srv := &http.Server{
		Addr:        ":" + opts.Port,
		Handler:     router,
		ReadTimeout: opts.ReadTimeout,
		// SSE 长连接，WriteTimeout 为0时不限制
		WriteTimeout: opts.WriteTimeout,
	}

	return &Server{
		router: router,
		srv:    srv,
		opts:   opts,
	}
}

// SetupRoutes 设置路由
func (s *Server) SetupRoutes(handlers *Handlers) {
	s.srv.RegisterOnShutdown(handlers.CloseStreams)

	// 健康检查
	s.router.GET("/health", handlers.HealthCheck)
	s.router.GET("/ready", handlers.ReadinessCheck)

	// API v1 路由组
	v1 := s.router.Group("/api/v1")
	if s.opts.JWTSecret != "" {
		v1.Use(JWTAuth(s.opts.JWTSecret))
	}
	{
		notifications := v1.Group("/notifications")
		notifications.POST("", handlers.CreateNotification)
		notifications.GET("/user/:userId/channel/:channel", handlers.ListNotifications)
		notifications.PATCH("/:id", handlers.UpdateNotificationStatus)

		users := v1.Group("/users")
		users.POST("", handlers.CreateUser)
		users.GET("", handlers.ListUsers)
		users.GET("/:id", handlers.GetUser)
		users.PATCH("/:id", handlers.UpdateUser)

		realtime := v1.Group("/realtime")
		realtime.GET("/stream", handlers.Stream)
		realtime.POST("/connections/:connectionId/commands", handlers.Command)
	}
}

// Handler 返回路由，用于测试
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 在后台启动服务器，监听失败通过返回的channel报告
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("API服务器启动在 %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Infof("正在关闭服务器...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	logger.Infof("服务器已关闭")
	return nil
}
