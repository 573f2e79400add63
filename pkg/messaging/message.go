package messaging

import (
	"encoding/json"
	"fmt"
	"strings"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/model"
)

// Topic 队列主题
type Topic string

const (
	// TopicPersistence 持久化任务，持久存储
	TopicPersistence Topic = "notifications.persistence"
	// TopicRealtime 实时推送，非持久
	TopicRealtime Topic = "notifications.realtime"
)

// Kind 消息种类
type Kind string

const (
	KindPending       Kind = "pending"
	KindPersisted     Kind = "persisted"
	KindStatusChanged Kind = "status_changed"
)

// Message 队列消息，只有本包内的三种实现
type Message interface {
	Kind() Kind
	// View 消息携带的通知视图
	View() model.View
	Validate() error
	sealed()
}

// Pending 持久化之前的通知
type Pending struct {
	Draft model.Draft
}

// Persisted 持久化完成后的对账消息，带有持久化ID和原临时ID
type Persisted struct {
	Record model.View
}

// StatusChanged 状态变更后的记录
type StatusChanged struct {
	Record model.View
}

func (Pending) Kind() Kind       { return KindPending }
func (Persisted) Kind() Kind     { return KindPersisted }
func (StatusChanged) Kind() Kind { return KindStatusChanged }

func (m Pending) View() model.View       { return m.Draft.View() }
func (m Persisted) View() model.View     { return m.Record }
func (m StatusChanged) View() model.View { return m.Record }

func (Pending) sealed()       {}
func (Persisted) sealed()     {}
func (StatusChanged) sealed() {}

func (m Pending) Validate() error {
	return validateView(m.Draft.View(), false)
}

func (m Persisted) Validate() error {
	return validateView(m.Record, true)
}

func (m StatusChanged) Validate() error {
	return validateView(m.Record, true)
}

func validateView(v model.View, needID bool) error {
	var missing []string
	if needID && v.ID == "" {
		missing = append(missing, "id")
	}
	if v.ProvisionalID == "" {
		missing = append(missing, "provisionalId")
	}
	if v.TargetUserID == "" {
		missing = append(missing, "targetUserId")
	}
	if v.Body == "" {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return errno.Wrap(errno.ErrMalformedMessage, "缺少字段 %s", strings.Join(missing, ","))
	}
	if _, ok := model.ParseStatus(string(v.Status)); !ok || v.Status == "" {
		return errno.Wrap(errno.ErrMalformedMessage, "非法状态 %q", v.Status)
	}
	if _, ok := model.ParseChannel(string(v.Channel)); !ok || v.Channel == "" {
		return errno.Wrap(errno.ErrMalformedMessage, "非法渠道 %q", v.Channel)
	}
	return nil
}

// Accepts 主题是否接受该种类的消息，持久化主题只接受 pending
func (t Topic) Accepts(k Kind) bool {
	switch t {
	case TopicPersistence:
		return k == KindPending
	case TopicRealtime:
		return k == KindPending || k == KindPersisted || k == KindStatusChanged
	default:
		return false
	}
}

type envelope struct {
	Kind         Kind            `json:"kind"`
	Notification json.RawMessage `json:"notification"`
}

// Encode 校验并编码消息
func Encode(topic Topic, msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errno.Wrap(errno.ErrMalformedMessage, "消息为空")
	}
	if !topic.Accepts(msg.Kind()) {
		return nil, errno.Wrap(errno.ErrMalformedMessage, "主题 %s 不接受 %s 消息", topic, msg.Kind())
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	var body any
	switch m := msg.(type) {
	case Pending:
		body = m.Draft
	case Persisted:
		body = m.Record
	case StatusChanged:
		body = m.Record
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化消息失败: %w", err)
	}
	return json.Marshal(envelope{Kind: msg.Kind(), Notification: raw})
}

// Decode 解码并校验消息，格式错误统一返回 ErrMalformedMessage
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errno.Wrap(errno.ErrMalformedMessage, "解析消息失败: %v", err)
	}

	var msg Message
	switch env.Kind {
	case KindPending:
		var d model.Draft
		if err := json.Unmarshal(env.Notification, &d); err != nil {
			return nil, errno.Wrap(errno.ErrMalformedMessage, "解析pending消息失败: %v", err)
		}
		msg = Pending{Draft: d}
	case KindPersisted, KindStatusChanged:
		var v model.View
		if err := json.Unmarshal(env.Notification, &v); err != nil {
			return nil, errno.Wrap(errno.ErrMalformedMessage, "解析%s消息失败: %v", env.Kind, err)
		}
		if env.Kind == KindPersisted {
			msg = Persisted{Record: v}
		} else {
			msg = StatusChanged{Record: v}
		}
	default:
		return nil, errno.Wrap(errno.ErrMalformedMessage, "未知的消息种类 %q", env.Kind)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
