package messaging

import (
	"context"
	"errors"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/logger"
)

// Handler 消息处理函数，返回错误时消息会被重新投递
type Handler func(ctx context.Context, msg Message) error

// Queue 工作队列
type Queue interface {
	Publish(ctx context.Context, topic Topic, msg Message) error
	// Subscribe 以 consumer 为名订阅主题，同名消费者之间竞争消费
	Subscribe(topic Topic, consumer string, concurrency int, handler Handler) error
	Close() error
}

// ackAction 处理结果对应的确认方式
type ackAction int

const (
	ackOK ackAction = iota
	ackRetry
	ackDrop
)

// dispatch 解码消息并调用处理器，处理器 panic 视为失败
func dispatch(ctx context.Context, consumer string, data []byte, handler Handler) (action ackAction) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("consumer", consumer).Errorf("处理消息时发生panic: %v", r)
			action = ackRetry
		}
	}()

	msg, err := Decode(data)
	if err == nil {
		err = handler(ctx, msg)
	}

	switch {
	case err == nil:
		return ackOK
	case errors.Is(err, errno.ErrMalformedMessage):
		logger.WithField("consumer", consumer).WithError(err).Warn("丢弃格式错误的消息")
		return ackDrop
	default:
		logger.WithField("consumer", consumer).WithError(err).Warn("处理消息失败，等待重新投递")
		return ackRetry
	}
}

func unavailable(topic Topic, err error) error {
	return errno.Wrap(errno.ErrQueueUnavailable, "发布消息到 %s 失败: %v", topic, err)
}
