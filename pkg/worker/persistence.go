package worker

import (
	"context"
	"fmt"
	"time"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/messaging"
	"NotifyHub/pkg/model"
)

// PersistenceConsumer 持久化主题的消费者名，所有实例共享
const PersistenceConsumer = "persistence-worker"

// NotificationWriter 持久化通知
type NotificationWriter interface {
	SaveDraft(ctx context.Context, draft model.Draft) (*model.Notification, bool, error)
}

// PersistenceWorker 消费持久化主题，写库后向实时主题发布对账消息
type PersistenceWorker struct {
	queue          messaging.Queue
	store          NotificationWriter
	concurrency    int
	publishTimeout time.Duration
}

func NewPersistenceWorker(queue messaging.Queue, store NotificationWriter, concurrency int, publishTimeout time.Duration) *PersistenceWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	if publishTimeout <= 0 {
		publishTimeout = 3 * time.Second
	}
	return &PersistenceWorker{
		queue:          queue,
		store:          store,
		concurrency:    concurrency,
		publishTimeout: publishTimeout,
	}
}

func (w *PersistenceWorker) Start() error {
	return w.queue.Subscribe(messaging.TopicPersistence, PersistenceConsumer, w.concurrency, w.Handle)
}

// Handle 写库失败或对账消息发布失败都返回错误，由队列重新投递；
// 按 provisionalId 幂等写入，重投不会产生重复记录
func (w *PersistenceWorker) Handle(ctx context.Context, msg messaging.Message) error {
	pending, ok := msg.(messaging.Pending)
	if !ok {
		return errno.Wrap(errno.ErrMalformedMessage, "持久化主题收到 %s 消息", msg.Kind())
	}

	entry := logger.WithField("provisionalId", pending.Draft.ProvisionalID)

	record, created, err := w.store.SaveDraft(ctx, pending.Draft)
	if err != nil {
		entry.WithError(err).Error("保存通知失败")
		return err
	}
	if !created {
		entry.WithField("id", record.ID).Info("通知已存在，重新发布对账消息")
	}

	pubCtx, cancel := context.WithTimeout(ctx, w.publishTimeout)
	defer cancel()
	if err := w.queue.Publish(pubCtx, messaging.TopicRealtime, messaging.Persisted{Record: record.View()}); err != nil {
		entry.WithError(err).Warn("发布对账消息失败")
		return fmt.Errorf("发布对账消息失败: %w", err)
	}

	entry.WithField("id", record.ID).Debug("通知已持久化")
	return nil
}
