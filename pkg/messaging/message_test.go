package messaging

import (
	"errors"
	"testing"
	"time"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/model"
)

func testDraft() model.Draft {
	return model.Draft{
		ProvisionalID: "p-1",
		TargetUserID:  "u1",
		Title:         model.DefaultTitle,
		Body:          "hi",
		Status:        model.StatusUnread,
		Channel:       model.ChannelWeb,
		Timestamp:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func testRecord() model.View {
	v := testDraft().View()
	v.ID = "n-1"
	return v
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		topic Topic
		msg   Message
	}{
		{name: "pending进入持久化主题", topic: TopicPersistence, msg: Pending{Draft: testDraft()}},
		{name: "pending进入实时主题", topic: TopicRealtime, msg: Pending{Draft: testDraft()}},
		{name: "persisted进入实时主题", topic: TopicRealtime, msg: Persisted{Record: testRecord()}},
		{name: "status_changed进入实时主题", topic: TopicRealtime, msg: StatusChanged{Record: testRecord()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := Encode(tt.topic, tt.msg)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Kind() != tt.msg.Kind() {
				t.Errorf("Kind() = %q, want %q", got.Kind(), tt.msg.Kind())
			}
			if got.View().ProvisionalID != "p-1" {
				t.Errorf("ProvisionalID = %q, want p-1", got.View().ProvisionalID)
			}
			if got.View().ID != tt.msg.View().ID {
				t.Errorf("ID = %q, want %q", got.View().ID, tt.msg.View().ID)
			}
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	t.Parallel()

	noID := testDraft().View()
	noUser := testDraft()
	noUser.TargetUserID = ""
	badStatus := testDraft()
	badStatus.Status = "archived"

	tests := []struct {
		name  string
		topic Topic
		msg   Message
	}{
		{name: "持久化主题不接受persisted", topic: TopicPersistence, msg: Persisted{Record: testRecord()}},
		{name: "persisted缺少id", topic: TopicRealtime, msg: Persisted{Record: noID}},
		{name: "缺少targetUserId", topic: TopicPersistence, msg: Pending{Draft: noUser}},
		{name: "非法状态", topic: TopicRealtime, msg: Pending{Draft: badStatus}},
		{name: "空消息", topic: TopicRealtime, msg: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Encode(tt.topic, tt.msg); !errors.Is(err, errno.ErrMalformedMessage) {
				t.Errorf("Encode() err = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	inputs := map[string]string{
		"非JSON":  `not json`,
		"未知种类":   `{"kind":"deleted","notification":{}}`,
		"字段缺失":   `{"kind":"pending","notification":{"provisionalId":"p"}}`,
		"字段类型错误": `{"kind":"persisted","notification":{"id":1}}`,
	}
	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode([]byte(raw)); !errors.Is(err, errno.ErrMalformedMessage) {
				t.Errorf("Decode() err = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := b.Delay(0); got != 100*time.Millisecond {
		t.Errorf("Delay(0) = %v, want 100ms", got)
	}
	if got := b.Delay(1000); got != time.Second {
		t.Errorf("Delay(1000) = %v, want 1s", got)
	}
}
