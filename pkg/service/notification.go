package service

import (
	"context"
	"strings"
	"time"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/messaging"
	"NotifyHub/pkg/model"
)

// NotificationStore 通知的查询与状态更新
type NotificationStore interface {
	GetByID(ctx context.Context, id string) (*model.Notification, error)
	ListByUserChannel(ctx context.Context, userID string, channel model.Channel) ([]model.Notification, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Notification, error)
}

// NotificationService 历史查询与状态变更
type NotificationService struct {
	store   NotificationStore
	queue   Publisher
	timeout time.Duration
}

func NewNotificationService(store NotificationStore, queue Publisher, timeout time.Duration) *NotificationService {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &NotificationService{
		store:   store,
		queue:   queue,
		timeout: timeout,
	}
}

// History 用户在某渠道的通知，最新的在前
func (s *NotificationService) History(ctx context.Context, userID, channel string) ([]model.View, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errno.Validation("userId 不能为空")
	}
	ch, ok := model.ParseChannel(channel)
	if !ok {
		return nil, errno.Validation("无效的渠道: %s", channel)
	}

	records, err := s.store.ListByUserChannel(ctx, userID, ch)
	if err != nil {
		return nil, err
	}
	return model.Views(records), nil
}

// ChangeStatus 更新通知状态并推送 notification_updated。
// ownerID 非空时只能修改发给该用户的通知；写库成功后推送失败只记录日志，仍返回更新后的记录。
func (s *NotificationService) ChangeStatus(ctx context.Context, ownerID, id, status string) (model.View, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.View{}, errno.Validation("id 不能为空")
	}
	if strings.TrimSpace(status) == "" {
		return model.View{}, errno.Validation("status 不能为空")
	}
	st, ok := model.ParseStatus(status)
	if !ok {
		return model.View{}, errno.Validation("无效的状态: %s", status)
	}

	if ownerID != "" {
		current, err := s.store.GetByID(ctx, id)
		if err != nil {
			return model.View{}, err
		}
		if current.TargetUserID != ownerID {
			return model.View{}, errno.Wrap(errno.ErrForbidden, "通知 %s 不属于用户 %s", id, ownerID)
		}
	}

	record, err := s.store.UpdateStatus(ctx, id, st)
	if err != nil {
		return model.View{}, err
	}
	view := record.View()

	pubCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.queue.Publish(pubCtx, messaging.TopicRealtime, messaging.StatusChanged{Record: view}); err != nil {
		logger.WithField("id", id).WithError(err).Warn("状态变更推送失败")
	}
	return view, nil
}
