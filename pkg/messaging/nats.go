// pkg/messaging/nats.go
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/logger"
)

const (
	persistenceStream = "NOTIFICATIONS_PERSISTENCE"
	realtimeStream    = "NOTIFICATIONS_REALTIME"
)

// NATSOptions JetStream 客户端参数
type NATSOptions struct {
	ClientID       string
	Backoff        Backoff
	RealtimeMaxAge time.Duration
	AckWait        time.Duration
}

// NATSClient NATS JetStream 工作队列，首次使用时建立连接
type NATSClient struct {
	natsURL string
	opts    NATSOptions

	mu           sync.Mutex // 保护 conn/jetStream/streamsReady
	conn         *nats.Conn
	jetStream    jetstream.JetStream
	streamsReady bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNATSClient 创建客户端，此时不连接
func NewNATSClient(natsURL string, opts NATSOptions) *NATSClient {
	if opts.Backoff.Base == 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.RealtimeMaxAge == 0 {
		opts.RealtimeMaxAge = time.Minute
	}
	if opts.AckWait == 0 {
		opts.AckWait = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NATSClient{
		natsURL: natsURL,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// js 返回可用的 JetStream 上下文，必要时连接并创建 Streams
func (c *NATSClient) js(ctx context.Context) (jetstream.JetStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return nil, errors.New("NATS客户端已关闭")
	}

	if c.conn == nil {
		nc, err := nats.Connect(c.natsURL,
			nats.Name(c.opts.ClientID),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1), // 无限重连
			nats.CustomReconnectDelay(c.opts.Backoff.Delay),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				logger.WithError(err).Warn("NATS连接断开")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Infof("NATS重新连接成功: %s", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("连接NATS失败: %w", err)
		}

		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("创建JetStream失败: %w", err)
		}
		c.conn = nc
		c.jetStream = js
	}

	if !c.streamsReady {
		if err := c.setupStreams(ctx); err != nil {
			return nil, err
		}
		c.streamsReady = true
	}
	return c.jetStream, nil
}

// setupStreams 创建两个主题对应的 Stream
func (c *NATSClient) setupStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        persistenceStream,
			Subjects:    []string{string(TopicPersistence)},
			Description: "通知持久化任务",
			Retention:   jetstream.WorkQueuePolicy,
			Storage:     jetstream.FileStorage,
			MaxAge:      7 * 24 * time.Hour,
			Duplicates:  2 * time.Minute,
		},
		{
			Name:        realtimeStream,
			Subjects:    []string{string(TopicRealtime)},
			Description: "通知实时推送",
			Retention:   jetstream.LimitsPolicy,
			Storage:     jetstream.MemoryStorage,
			MaxMsgs:     100000,
			MaxAge:      c.opts.RealtimeMaxAge,
		},
	}

	for _, streamConfig := range streams {
		if _, err := c.jetStream.CreateOrUpdateStream(ctx, streamConfig); err != nil {
			return fmt.Errorf("创建/更新Stream %s 失败: %w", streamConfig.Name, err)
		}
		logger.Debugf("Stream %s 设置成功", streamConfig.Name)
	}
	return nil
}

// Publish 发布消息，ctx 的超时即入队时限
func (c *NATSClient) Publish(ctx context.Context, topic Topic, msg Message) error {
	payload, err := Encode(topic, msg)
	if err != nil {
		return err
	}

	js, err := c.js(ctx)
	if err != nil {
		return unavailable(topic, err)
	}

	var opts []jetstream.PublishOpt
	if topic == TopicPersistence {
		// 网关重试时由服务端按临时ID去重
		opts = append(opts, jetstream.WithMsgID(msg.View().ProvisionalID))
	}
	if _, err := js.Publish(ctx, string(topic), payload, opts...); err != nil {
		return unavailable(topic, err)
	}

	logger.WithFields(map[string]any{
		"topic": topic,
		"kind":  msg.Kind(),
		"bytes": len(payload),
	}).Debug("消息已发布")
	return nil
}

// Subscribe 订阅主题，连接不可用时在后台按退避重试
func (c *NATSClient) Subscribe(topic Topic, consumer string, concurrency int, handler Handler) error {
	if handler == nil {
		return errors.New("handler不能为空")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	stream, cfg, err := c.consumerConfig(topic, consumer, concurrency)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(stream, cfg, concurrency, handler)
	}()

	logger.Infof("已订阅 %s (Stream: %s, Consumer: %s)", topic, stream, consumer)
	return nil
}

func (c *NATSClient) consumerConfig(topic Topic, consumer string, concurrency int) (string, jetstream.ConsumerConfig, error) {
	cfg := jetstream.ConsumerConfig{
		Durable:       consumer,
		Description:   fmt.Sprintf("%s 消费者", consumer),
		FilterSubject: string(topic),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.opts.AckWait,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	switch topic {
	case TopicPersistence:
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
		cfg.MaxAckPending = concurrency * 2
		return persistenceStream, cfg, nil
	case TopicRealtime:
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
		cfg.InactiveThreshold = 10 * time.Minute
		return realtimeStream, cfg, nil
	default:
		return "", cfg, fmt.Errorf("未知主题: %s", topic)
	}
}

// run 建立消费者并持续消费，异常退出后按退避重建
func (c *NATSClient) run(stream string, cfg jetstream.ConsumerConfig, concurrency int, handler Handler) {
	attempt := 0
	for c.ctx.Err() == nil {
		err := c.consume(stream, cfg, concurrency, handler)
		if c.ctx.Err() != nil {
			return
		}
		attempt++
		delay := c.opts.Backoff.Delay(attempt)
		logger.WithError(err).Warnf("消费者 %s 中断，%v 后重试", cfg.Durable, delay)

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *NATSClient) consume(stream string, cfg jetstream.ConsumerConfig, concurrency int, handler Handler) error {
	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	js, err := c.js(ctx)
	if err != nil {
		cancel()
		return err
	}
	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("创建消费者 %s 失败: %w", cfg.Durable, err)
	}

	iter, err := consumer.Messages(jetstream.PullMaxMessages(concurrency * 2))
	if err != nil {
		return fmt.Errorf("获取 %s 消息迭代器失败: %w", cfg.Durable, err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-c.ctx.Done():
		case <-stop:
		}
		iter.Stop()
	}()

	jobs := make(chan jetstream.Msg)
	var workers sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for msg := range jobs {
				c.process(cfg.Durable, msg, handler)
			}
		}()
	}
	defer func() {
		close(jobs)
		workers.Wait()
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return err
			}
			if c.ctx.Err() != nil {
				return c.ctx.Err()
			}
			logger.WithError(err).Warnf("获取 %s 消息失败", cfg.Durable)
			time.Sleep(time.Second)
			continue
		}
		jobs <- msg
	}
}

// process 按处理结果确认消息
func (c *NATSClient) process(consumer string, msg jetstream.Msg, handler Handler) {
	switch dispatch(c.ctx, consumer, msg.Data(), handler) {
	case ackOK:
		if err := msg.Ack(); err != nil {
			logger.WithError(err).Warnf("消费者 %s 确认消息失败", consumer)
		}
	case ackDrop:
		_ = msg.Term()
	default:
		attempt := 1
		if meta, err := msg.Metadata(); err == nil {
			attempt = int(meta.NumDelivered)
		}
		_ = msg.NakWithDelay(c.opts.Backoff.Delay(attempt))
	}
}

// Close 停止所有消费者并关闭连接
func (c *NATSClient) Close() error {
	logger.Infof("正在关闭NATS连接...")
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.conn.Close()
		}
		c.conn = nil
	}
	logger.Infof("NATS连接已关闭")
	return nil
}

// IsConnected 检查连接状态
func (c *NATSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Ping 供健康检查使用，确保连接与 Streams 可用
func (c *NATSClient) Ping(ctx context.Context) error {
	js, err := c.js(ctx)
	if err != nil {
		return err
	}
	if !c.IsConnected() {
		return errno.Wrap(errno.ErrQueueUnavailable, "NATS连接已断开，正在重连")
	}
	if _, err := js.AccountInfo(ctx); err != nil {
		return errno.Wrap(errno.ErrQueueUnavailable, "%v", err)
	}
	return nil
}
