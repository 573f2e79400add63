package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"NotifyHub/pkg/model"
)

// Inbox 客户端本地的通知列表，最新的在前。
// 按 id 或 provisionalId 合并，重复投递与乱序到达都不会产生重复条目。
type Inbox struct {
	mu    sync.RWMutex
	items []model.View
}

func NewInbox() *Inbox {
	return &Inbox{}
}

// Apply 应用一条服务端事件，未知事件忽略
func (i *Inbox) Apply(kind model.EventKind, data []byte) error {
	switch kind {
	case model.EventInitialNotifications:
		var views []model.View
		if err := json.Unmarshal(data, &views); err != nil {
			return fmt.Errorf("解析 %s 失败: %w", kind, err)
		}
		i.Reset(views)
	case model.EventNewNotification, model.EventNotificationUpdated:
		var view model.View
		if err := json.Unmarshal(data, &view); err != nil {
			return fmt.Errorf("解析 %s 失败: %w", kind, err)
		}
		i.Upsert(view)
	}
	return nil
}

// Reset 用完整历史替换本地列表
func (i *Inbox) Reset(views []model.View) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.items = append([]model.View(nil), views...)
}

// Upsert 插入或合并一条通知。已持久化的条目不会被迟到的乐观消息覆盖。
func (i *Inbox) Upsert(view model.View) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for idx, item := range i.items {
		if !sameNotification(item, view) {
			continue
		}
		if item.Persisted() && !view.Persisted() {
			return
		}
		i.items[idx] = view
		return
	}
	i.items = append([]model.View{view}, i.items...)
}

func sameNotification(a, b model.View) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	return a.ProvisionalID != "" && a.ProvisionalID == b.ProvisionalID
}

// Items 返回副本
func (i *Inbox) Items() []model.View {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]model.View(nil), i.items...)
}

// Unread 未读数量
func (i *Inbox) Unread() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	n := 0
	for _, item := range i.items {
		if item.Status == model.StatusUnread {
			n++
		}
	}
	return n
}
