package worker

import (
	"context"

	"NotifyHub/pkg/messaging"
	"NotifyHub/pkg/model"
	"NotifyHub/pkg/registry"
)

// FanoutWorker 消费实时主题，把事件路由到目标用户的连接组
type FanoutWorker struct {
	queue    messaging.Queue
	consumer string
	handlers map[model.Channel]ChannelHandler
}

// NewFanoutWorker consumer 为消费者名，各实例独立消费时应互不相同
func NewFanoutWorker(queue messaging.Queue, broadcaster registry.Broadcaster, consumer string) *FanoutWorker {
	return &FanoutWorker{
		queue:    queue,
		consumer: consumer,
		handlers: defaultHandlers(broadcaster),
	}
}

// Start 订阅实时主题，单并发以保持接收顺序
func (w *FanoutWorker) Start() error {
	return w.queue.Subscribe(messaging.TopicRealtime, w.consumer, 1, w.Handle)
}

func (w *FanoutWorker) Handle(ctx context.Context, msg messaging.Message) error {
	view, kind := Reconcile(msg)

	handler, ok := w.handlers[view.Channel]
	if !ok {
		handler = unsupportedHandler{channel: view.Channel}
	}
	return handler.Deliver(ctx, view, kind)
}
