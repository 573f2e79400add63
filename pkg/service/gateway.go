package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/messaging"
	"NotifyHub/pkg/model"
)

// Publisher 向主题投递消息，messaging.Queue 满足该接口
type Publisher interface {
	Publish(ctx context.Context, topic messaging.Topic, msg messaging.Message) error
}

// UserChecker 判断用户是否存在
type UserChecker interface {
	ExistsByID(ctx context.Context, userID string) (bool, error)
}

// CreateRequest 创建通知请求
type CreateRequest struct {
	TargetUserID string `json:"targetUserId" binding:"required"`
	Title        string `json:"title"`
	Body         string `json:"body" binding:"required"`
	Status       string `json:"status" binding:"omitempty,oneof=unread read"`
	Channel      string `json:"channel" binding:"omitempty,oneof=web email sms push all"`
}

// Gateway 通知入口，校验后同时投递到持久化与实时两个主题
type Gateway struct {
	queue   Publisher
	users   UserChecker
	timeout time.Duration
	now     func() time.Time
}

// NewGateway timeout 为两次投递共用的超时
func NewGateway(queue Publisher, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Gateway{
		queue:   queue,
		timeout: timeout,
		now:     time.Now,
	}
}

// RequireExistingUser 开启后目标用户必须已在用户目录中
func (g *Gateway) RequireExistingUser(users UserChecker) *Gateway {
	g.users = users
	return g
}

// Create 校验并投递通知，两个主题都接受后返回草稿
func (g *Gateway) Create(ctx context.Context, req CreateRequest) (model.Draft, error) {
	draft, err := g.build(req)
	if err != nil {
		return model.Draft{}, err
	}

	if g.users != nil {
		exists, err := g.users.ExistsByID(ctx, draft.TargetUserID)
		if err != nil {
			return model.Draft{}, errno.Wrap(errno.ErrInternal, "查询用户失败: %v", err)
		}
		if !exists {
			return model.Draft{}, errno.Validation("目标用户 %s 不存在", draft.TargetUserID)
		}
	}

	if err := g.enqueue(ctx, draft); err != nil {
		logger.WithField("provisionalId", draft.ProvisionalID).WithError(err).Error("通知入队失败")
		return model.Draft{}, err
	}

	logger.WithFields(map[string]any{
		"provisionalId": draft.ProvisionalID,
		"targetUserId":  draft.TargetUserID,
		"channel":       draft.Channel,
	}).Info("通知已入队")
	return draft, nil
}

func (g *Gateway) build(req CreateRequest) (model.Draft, error) {
	userID := strings.TrimSpace(req.TargetUserID)
	if userID == "" {
		return model.Draft{}, errno.Validation("targetUserId 不能为空")
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return model.Draft{}, errno.Validation("body 不能为空")
	}

	status, ok := model.ParseStatus(req.Status)
	if !ok {
		return model.Draft{}, errno.Validation("无效的状态: %s", req.Status)
	}
	channel, ok := model.ParseChannel(req.Channel)
	if !ok {
		return model.Draft{}, errno.Validation("无效的渠道: %s", req.Channel)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = model.DefaultTitle
	}

	return model.Draft{
		ProvisionalID: model.NewProvisionalID(),
		TargetUserID:  userID,
		Title:         title,
		Body:          body,
		Status:        status,
		Channel:       channel,
		Timestamp:     g.now().UTC(),
	}, nil
}

// enqueue 两个主题并发投递，持久化投递等到实时主题接受后才放行，
// 保证同一连接先收到乐观事件再收到对账事件
func (g *Gateway) enqueue(ctx context.Context, draft model.Draft) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msg := messaging.Pending{Draft: draft}
	realtimeAccepted := make(chan struct{})
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := g.queue.Publish(egCtx, messaging.TopicRealtime, msg); err != nil {
			return err
		}
		close(realtimeAccepted)
		return nil
	})
	eg.Go(func() error {
		select {
		case <-realtimeAccepted:
		case <-egCtx.Done():
			return errno.Wrap(errno.ErrQueueUnavailable, "实时主题未接受: %v", context.Cause(egCtx))
		}
		return g.queue.Publish(egCtx, messaging.TopicPersistence, msg)
	})

	err := eg.Wait()
	if err == nil || errors.Is(err, errno.ErrQueueUnavailable) {
		return err
	}
	return errno.Wrap(errno.ErrQueueUnavailable, "%v", err)
}
