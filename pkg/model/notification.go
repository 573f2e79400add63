// pkg/model/notification.go
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultTitle 未指定标题时使用的默认标题
const DefaultTitle = "Notification"

// Channel 通知渠道
type Channel string

const (
	ChannelWeb   Channel = "web"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelAll   Channel = "all"
)

// ParseChannel 解析渠道，空值返回默认的web渠道
func ParseChannel(s string) (Channel, bool) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return ChannelWeb, true
	case ChannelWeb, ChannelEmail, ChannelSMS, ChannelPush, ChannelAll:
		return c, true
	default:
		return "", false
	}
}

// Realtime 是否经由实时推送通道投递
func (c Channel) Realtime() bool {
	return c == ChannelWeb || c == ChannelAll
}

// Status 通知状态，只在 unread 和 read 之间切换
type Status string

const (
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
)

// ParseStatus 解析状态，空值返回默认的unread
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StatusUnread, true
	case StatusUnread, StatusRead:
		return st, true
	default:
		return "", false
	}
}


// Notification 持久化的通知记录
type Notification struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ProvisionalID string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"provisionalId"`
	TargetUserID  string    `gorm:"type:varchar(64);not null;index:idx_notifications_user_channel,priority:1" json:"targetUserId"`
	Title         string    `gorm:"type:varchar(255);not null" json:"title"`
	Body          string    `gorm:"type:text;not null" json:"body"`
	Channel       Channel   `gorm:"type:varchar(10);not null;default:'web';index:idx_notifications_user_channel,priority:2" json:"channel"`
	Status        Status    `gorm:"type:varchar(10);not null;default:'unread'" json:"status"`
	Timestamp     time.Time `gorm:"not null;index" json:"timestamp"`
	CreatedAt     time.Time `gorm:"<-:create" json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return nil
}

// View 转换为客户端视图
func (n *Notification) View() View {
	createdAt := n.CreatedAt
	return View{
		ID:            n.ID,
		ProvisionalID: n.ProvisionalID,
		TargetUserID:  n.TargetUserID,
		Title:         n.Title,
		Body:          n.Body,
		Status:        n.Status,
		Channel:       n.Channel,
		Timestamp:     n.Timestamp,
		CreatedAt:     &createdAt,
	}
}

// Draft 尚未持久化的通知，没有持久化ID
type Draft struct {
	ProvisionalID string    `json:"provisionalId"`
	TargetUserID  string    `json:"targetUserId"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Status        Status    `json:"status"`
	Channel       Channel   `json:"channel"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewProvisionalID 生成临时ID，UUIDv7 同时包含时间与随机部分
func NewProvisionalID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Record 由草稿构造待写入的记录
func (d Draft) Record() *Notification {
	return &Notification{
		ProvisionalID: d.ProvisionalID,
		TargetUserID:  d.TargetUserID,
		Title:         d.Title,
		Body:          d.Body,
		Channel:       d.Channel,
		Status:        d.Status,
		Timestamp:     d.Timestamp,
	}
}

// View 草稿的客户端视图，ID为空
func (d Draft) View() View {
	return View{
		ProvisionalID: d.ProvisionalID,
		TargetUserID:  d.TargetUserID,
		Title:         d.Title,
		Body:          d.Body,
		Status:        d.Status,
		Channel:       d.Channel,
		Timestamp:     d.Timestamp,
	}
}

// View 客户端看到的通知，持久化前 ID 为空
type View struct {
	ID            string     `json:"id,omitempty"`
	ProvisionalID string     `json:"provisionalId"`
	TargetUserID  string     `json:"targetUserId"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	Status        Status     `json:"status"`
	Channel       Channel    `json:"channel"`
	Timestamp     time.Time  `json:"timestamp"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
}

// Persisted 是否已经拥有持久化ID
func (v View) Persisted() bool {
	return v.ID != ""
}

// Views 批量转换
func Views(records []Notification) []View {
	views := make([]View, 0, len(records))
	for i := range records {
		views = append(views, records[i].View())
	}
	return views
}
