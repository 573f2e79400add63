package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"NotifyHub/pkg/logger"
)

// redisEnvelope Redis Pub/Sub 中的消息格式
type redisEnvelope struct {
	GroupKey string    `json:"group_key"`
	Event    Event     `json:"event"`
	SentAt   time.Time `json:"sent_at"`
}

// RedisBridge 经由 Redis Pub/Sub 把事件广播到所有实例的本地注册表
type RedisBridge struct {
	client  *redis.Client
	channel string
	local   *Registry
	ready   chan struct{}
	once    sync.Once
}

func NewRedisBridge(client *redis.Client, channel string, local *Registry) *RedisBridge {
	return &RedisBridge{
		client:  client,
		channel: channel,
		local:   local,
		ready:   make(chan struct{}),
	}
}

// Broadcast 发布到共享频道，本实例也经由订阅收到
func (b *RedisBridge) Broadcast(ctx context.Context, groupKey string, ev Event) error {
	body, err := json.Marshal(redisEnvelope{
		GroupKey: groupKey,
		Event:    ev,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("编码redis消息失败: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("发布redis消息失败 channel=%s: %w", b.channel, err)
	}
	return nil
}

// Ready 订阅建立后关闭
func (b *RedisBridge) Ready() <-chan struct{} {
	return b.ready
}

// Run 订阅共享频道并转发到本地注册表，直到 ctx 结束；可在失败后再次调用
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("订阅redis频道 %s 失败: %w", b.channel, err)
	}
	b.once.Do(func() { close(b.ready) })
	logger.Infof("redis桥接已启动 channel=%s", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env redisEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.WithError(err).Warnf("解析redis消息失败 channel=%s", b.channel)
				continue
			}
			if env.GroupKey == "" || env.Event.Name == "" {
				continue
			}
			b.local.Publish(env.GroupKey, env.Event)
		}
	}
}
