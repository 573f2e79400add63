package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/model"
)

var (
	ErrAlreadyConnected = errors.New("推送连接已建立")
	ErrNotConnected     = errors.New("推送连接未建立")
)

// APIError 服务端返回的错误响应
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("请求失败(%d): %s", e.Status, e.Message)
}

// Option 配置 Manager
type Option func(*Manager)

// WithHTTPClient 自定义HTTP客户端，不要设置 Timeout，否则会中断推送连接
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.http = c }
}

// WithToken 设置访问令牌
func WithToken(token string) Option {
	return func(m *Manager) { m.token = token }
}

// CreateInput 通过连接创建通知
type CreateInput struct {
	UserID  string
	Title   string
	Body    string
	Status  string
	Channel string
}

// Manager 一个实时推送连接及其命令通道，由调用方创建和关闭
type Manager struct {
	baseURL string
	http    *http.Client
	token   string
	inbox   *Inbox
	updates chan model.EventKind

	mu     sync.Mutex
	connID string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(baseURL string, opts ...Option) *Manager {
	m := &Manager{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		inbox:   NewInbox(),
		updates: make(chan model.EventKind, 64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Inbox 本地通知列表
func (m *Manager) Inbox() *Inbox {
	return m.inbox
}

// Updates 每应用一条事件发出一次通知，消费不及时会丢弃
func (m *Manager) Updates() <-chan model.EventKind {
	return m.updates
}

// ConnectionID 当前连接ID，未连接时为空
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connID
}

// Connect 建立推送连接，收到 connected 事件后返回。userID 非空时服务端直接加入该组
func (m *Manager) Connect(ctx context.Context, userID string) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	endpoint := m.baseURL + "/api/v1/realtime/stream"
	if userID != "" {
		endpoint += "?userId=" + url.QueryEscape(userID)
	}
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		m.reset(cancel)
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	m.authorize(req)

	connected := make(chan string, 1)
	go func() {
		defer close(done)
		resp, err := m.http.Do(req)
		if err != nil {
			logger.WithError(err).Warn("建立推送连接失败")
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			logger.WithError(decodeError(resp)).Warn("建立推送连接失败")
			return
		}
		err = readStream(resp.Body, func(ev streamEvent) {
			m.handleEvent(ev, connected)
		})
		if err != nil && streamCtx.Err() == nil {
			logger.WithError(err).Warn("推送连接中断")
		}
	}()

	select {
	case id := <-connected:
		m.mu.Lock()
		m.connID = id
		m.mu.Unlock()
		return nil
	case <-done:
		m.reset(cancel)
		return errors.New("推送连接在建立前关闭")
	case <-ctx.Done():
		cancel()
		<-done
		m.reset(cancel)
		return ctx.Err()
	}
}

func (m *Manager) handleEvent(ev streamEvent, connected chan<- string) {
	kind := model.EventKind(ev.name)
	if kind == model.EventConnected {
		var hello struct {
			ConnectionID string `json:"connectionId"`
		}
		if err := json.Unmarshal(ev.data, &hello); err != nil {
			logger.WithError(err).Warn("解析 connected 事件失败")
			return
		}
		select {
		case connected <- hello.ConnectionID:
		default:
		}
		return
	}

	if err := m.inbox.Apply(kind, ev.data); err != nil {
		logger.WithError(err).Warn("应用事件失败")
		return
	}
	select {
	case m.updates <- kind:
	default:
	}
}

func (m *Manager) reset(cancel context.CancelFunc) {
	cancel()
	m.mu.Lock()
	m.cancel = nil
	m.done = nil
	m.connID = ""
	m.mu.Unlock()
}

// Close 关闭推送连接并等待读取结束，可重复调用
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	m.reset(cancel)
	return nil
}

// Join 加入用户的连接组
func (m *Manager) Join(ctx context.Context, userID string) error {
	return m.command(ctx, map[string]string{"type": "join-group", "userId": userID}, nil)
}

// Leave 离开用户的连接组
func (m *Manager) Leave(ctx context.Context, userID string) error {
	return m.command(ctx, map[string]string{"type": "leave-group", "userId": userID}, nil)
}

// RequestInitial 请求完整历史，结果以 initial_notifications 事件送达
func (m *Manager) RequestInitial(ctx context.Context, userID, channel string) error {
	return m.command(ctx, map[string]string{"type": "request-initial", "userId": userID, "channel": channel}, nil)
}

// CreateNotification 返回临时ID
func (m *Manager) CreateNotification(ctx context.Context, in CreateInput) (string, error) {
	var resp struct {
		ProvisionalID string `json:"provisionalId"`
	}
	err := m.command(ctx, map[string]string{
		"type":    "create-notification",
		"userId":  in.UserID,
		"title":   in.Title,
		"body":    in.Body,
		"status":  in.Status,
		"channel": in.Channel,
	}, &resp)
	return resp.ProvisionalID, err
}

// ChangeStatus 返回更新后的通知
func (m *Manager) ChangeStatus(ctx context.Context, notificationID, status string) (model.View, error) {
	var view model.View
	err := m.command(ctx, map[string]string{
		"type":           "change-status",
		"notificationId": notificationID,
		"status":         status,
	}, &view)
	return view, err
}

func (m *Manager) command(ctx context.Context, payload map[string]string, out any) error {
	connID := m.ConnectionID()
	if connID == "" {
		return ErrNotConnected
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/api/v1/realtime/connections/%s/commands", m.baseURL, url.PathEscape(connID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	m.authorize(req)

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("发送命令 %s 失败: %w", payload["type"], err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (m *Manager) authorize(req *http.Request) {
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}
