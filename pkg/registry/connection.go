package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"NotifyHub/pkg/model"
)

// Event 推送给客户端连接的事件
type Event struct {
	Name model.EventKind `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent 将负载编码为事件
func NewEvent(name model.EventKind, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("编码事件 %s 失败: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// Connection 一个实时客户端连接，发送不阻塞
type Connection struct {
	id          string
	connectedAt time.Time
	events      chan Event
	done        chan struct{}
	closeOnce   sync.Once

	mu      sync.Mutex
	dropped int
}

// NewConnection 创建连接，buffer 为待发送事件的缓冲大小
func NewConnection(buffer int) *Connection {
	if buffer < 1 {
		buffer = 1
	}
	return &Connection{
		id:          uuid.NewString(),
		connectedAt: time.Now(),
		events:      make(chan Event, buffer),
		done:        make(chan struct{}),
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// Events 待写出的事件
func (c *Connection) Events() <-chan Event {
	return c.events
}

// Done 连接关闭后可读
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Send 投递事件，连接已关闭或缓冲已满时返回 false
func (c *Connection) Send(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.events <- ev:
		return true
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		return false
	}
}

// Dropped 因缓冲已满丢弃的事件数
func (c *Connection) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close 关闭连接，可重复调用
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
