package messaging

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryQueue 进程内队列，用于单机开发与测试。
// 每个消费者名对应一个分组，分组内的 worker 竞争消费；
// 持久化主题在没有消费者时暂存消息，实时主题直接丢弃。
type MemoryQueue struct {
	mu        sync.Mutex
	groups    map[Topic]map[string]*memoryGroup
	backlog   map[Topic][][]byte
	published map[Topic]int
	closed    bool

	retry  Backoff
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type memoryGroup struct {
	name  string
	queue chan memoryDelivery
}

type memoryDelivery struct {
	data    []byte
	attempt int
}

// NewMemoryQueue 创建进程内队列
func NewMemoryQueue() *MemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		groups:    make(map[Topic]map[string]*memoryGroup),
		backlog:   make(map[Topic][][]byte),
		published: make(map[Topic]int),
		retry:     Backoff{Base: 10 * time.Millisecond, Max: time.Second},
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, topic Topic, msg Message) error {
	data, err := Encode(topic, msg)
	if err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return unavailable(topic, errors.New("队列已关闭"))
	}
	groups := make([]*memoryGroup, 0, len(q.groups[topic]))
	for _, g := range q.groups[topic] {
		groups = append(groups, g)
	}
	if len(groups) == 0 && topic == TopicPersistence {
		q.backlog[topic] = append(q.backlog[topic], data)
	}
	q.published[topic]++
	q.mu.Unlock()

	for _, g := range groups {
		select {
		case g.queue <- memoryDelivery{data: data, attempt: 1}:
		case <-ctx.Done():
			return unavailable(topic, ctx.Err())
		case <-q.ctx.Done():
			return unavailable(topic, errors.New("队列已关闭"))
		}
	}
	return nil
}

func (q *MemoryQueue) Subscribe(topic Topic, consumer string, concurrency int, handler Handler) error {
	if handler == nil {
		return errors.New("handler不能为空")
	}
	if !topic.Accepts(KindPending) {
		return errors.New("未知主题: " + string(topic))
	}
	if concurrency < 1 {
		concurrency = 1
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("队列已关闭")
	}
	if q.groups[topic] == nil {
		q.groups[topic] = make(map[string]*memoryGroup)
	}
	g, ok := q.groups[topic][consumer]
	if !ok {
		g = &memoryGroup{name: consumer, queue: make(chan memoryDelivery, 1024)}
		q.groups[topic][consumer] = g
	}
	pending := q.backlog[topic]
	delete(q.backlog, topic)
	q.mu.Unlock()

	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go q.work(g, handler)
	}

	for _, data := range pending {
		select {
		case g.queue <- memoryDelivery{data: data, attempt: 1}:
		case <-q.ctx.Done():
			return nil
		}
	}
	return nil
}

func (q *MemoryQueue) work(g *memoryGroup, handler Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case d := <-g.queue:
			switch dispatch(q.ctx, g.name, d.data, handler) {
			case ackOK, ackDrop:
			default:
				q.redeliver(g, d)
			}
		}
	}
}

// redeliver 退避后放回分组队列
func (q *MemoryQueue) redeliver(g *memoryGroup, d memoryDelivery) {
	delay := q.retry.Delay(d.attempt)
	d.attempt++
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case <-q.ctx.Done():
		case <-time.After(delay):
			select {
			case g.queue <- d:
			case <-q.ctx.Done():
			}
		}
	}()
}

// Published 主题累计发布的消息数
func (q *MemoryQueue) Published(topic Topic) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.published[topic]
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
	return nil
}
