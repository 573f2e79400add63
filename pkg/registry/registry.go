package registry

import (
	"context"
	"errors"
	"sync"

	"NotifyHub/pkg/logger"
)

// ErrUnknownConnection 连接不存在或已断开
var ErrUnknownConnection = errors.New("连接不存在或已断开")

// Broadcaster 向连接组发布事件
type Broadcaster interface {
	Broadcast(ctx context.Context, groupKey string, ev Event) error
}

// Stats 注册表统计
type Stats struct {
	Connections int `json:"connections"`
	Groups      int `json:"groups"`
	Memberships int `json:"memberships"`
}

// Registry 用户ID到在线连接集合的映射，只保存当前成员关系
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	groups      map[string]map[*Connection]struct{}
	memberships map[*Connection]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		groups:      make(map[string]map[*Connection]struct{}),
		memberships: make(map[*Connection]map[string]struct{}),
	}
}

// Register 登记新连接，之后才能通过ID查找
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID()] = conn
	if r.memberships[conn] == nil {
		r.memberships[conn] = make(map[string]struct{})
	}
}

// Lookup 按ID查找连接
func (r *Registry) Lookup(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// Join 将连接加入组，不补发任何历史事件
func (r *Registry) Join(groupKey string, conn *Connection) error {
	if groupKey == "" {
		return errors.New("组名不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[conn.ID()]; !ok {
		return ErrUnknownConnection
	}
	members, ok := r.groups[groupKey]
	if !ok {
		members = make(map[*Connection]struct{})
		r.groups[groupKey] = members
	}
	members[conn] = struct{}{}
	r.memberships[conn][groupKey] = struct{}{}
	return nil
}

// Leave 将连接移出组，不在组内时无操作
func (r *Registry) Leave(groupKey string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(groupKey, conn)
}

func (r *Registry) leaveLocked(groupKey string, conn *Connection) {
	if members, ok := r.groups[groupKey]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(r.groups, groupKey)
		}
	}
	if groups, ok := r.memberships[conn]; ok {
		delete(groups, groupKey)
	}
}

// Disconnect 移出所有组并关闭连接
func (r *Registry) Disconnect(conn *Connection) {
	r.mu.Lock()
	for groupKey := range r.memberships[conn] {
		r.leaveLocked(groupKey, conn)
	}
	delete(r.memberships, conn)
	delete(r.connections, conn.ID())
	r.mu.Unlock()

	conn.Close()
}

// Publish 向组内所有连接发送事件，返回成功投递的连接数；空组为无操作
func (r *Registry) Publish(groupKey string, ev Event) int {
	r.mu.RLock()
	members := make([]*Connection, 0, len(r.groups[groupKey]))
	for conn := range r.groups[groupKey] {
		members = append(members, conn)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range members {
		if conn.Send(ev) {
			delivered++
			continue
		}
		logger.WithField("connection", conn.ID()).Warnf("连接缓冲已满，丢弃事件 %s", ev.Name)
	}
	return delivered
}

// Broadcast 实现 Broadcaster，直接投递到本地连接
func (r *Registry) Broadcast(_ context.Context, groupKey string, ev Event) error {
	r.Publish(groupKey, ev)
	return nil
}

// Members 组内连接数
func (r *Registry) Members(groupKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[groupKey])
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Connections: len(r.connections), Groups: len(r.groups)}
	for _, members := range r.groups {
		s.Memberships += len(members)
	}
	return s
}
