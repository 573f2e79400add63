package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"NotifyHub/pkg/api"
	"NotifyHub/pkg/database"
	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/messaging"
	"NotifyHub/pkg/model"
	"NotifyHub/pkg/registry"
	"NotifyHub/pkg/service"
	"NotifyHub/pkg/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestReadStream(t *testing.T) {
	t.Parallel()

	input := ": ok\n\n" +
		"event:connected\ndata:{\"connectionId\":\"c1\"}\n\n" +
		": ping\n\n" +
		"event: new_notification\ndata: {\"a\":1}\n\n" +
		"data: line1\ndata: line2\n\n"

	var got []streamEvent
	if err := readStream(strings.NewReader(input), func(ev streamEvent) { got = append(got, ev) }); err != nil {
		t.Fatalf("readStream() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].name != "connected" || string(got[0].data) != `{"connectionId":"c1"}` {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].name != "new_notification" || string(got[1].data) != `{"a":1}` {
		t.Errorf("got[1] = %+v", got[1])
	}
	if got[2].name != "message" || string(got[2].data) != "line1\nline2" {
		t.Errorf("got[2] = %+v", got[2])
	}
}

func TestInbox_Upsert(t *testing.T) {
	t.Parallel()

	optimistic := model.View{ProvisionalID: "p1", TargetUserID: "u1", Body: "hi", Status: model.StatusUnread}
	persisted := optimistic
	persisted.ID = "n1"
	read := persisted
	read.Status = model.StatusRead

	t.Run("乐观消息后对账", func(t *testing.T) {
		t.Parallel()
		inbox := NewInbox()
		inbox.Upsert(optimistic)
		inbox.Upsert(persisted)
		inbox.Upsert(persisted)

		items := inbox.Items()
		if len(items) != 1 || items[0].ID != "n1" {
			t.Errorf("items = %+v", items)
		}
	})

	t.Run("对账先于乐观消息到达", func(t *testing.T) {
		t.Parallel()
		inbox := NewInbox()
		inbox.Upsert(persisted)
		inbox.Upsert(optimistic)

		items := inbox.Items()
		if len(items) != 1 || items[0].ID != "n1" {
			t.Errorf("迟到的乐观消息不应覆盖已持久化条目, items = %+v", items)
		}
	})

	t.Run("按id合并状态变更", func(t *testing.T) {
		t.Parallel()
		inbox := NewInbox()
		inbox.Upsert(persisted)
		inbox.Upsert(model.View{ProvisionalID: "p2", Status: model.StatusUnread})
		if inbox.Unread() != 2 {
			t.Fatalf("Unread() = %d, want 2", inbox.Unread())
		}
		inbox.Upsert(read)
		if inbox.Unread() != 1 {
			t.Errorf("Unread() = %d, want 1", inbox.Unread())
		}
		if items := inbox.Items(); items[0].ProvisionalID != "p2" {
			t.Errorf("新条目应在最前, items = %+v", items)
		}
	})

	t.Run("初始列表替换本地状态", func(t *testing.T) {
		t.Parallel()
		inbox := NewInbox()
		inbox.Upsert(optimistic)
		if err := inbox.Apply(model.EventInitialNotifications, []byte(`[{"id":"n9","provisionalId":"p9","status":"read"}]`)); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		items := inbox.Items()
		if len(items) != 1 || items[0].ID != "n9" {
			t.Errorf("items = %+v", items)
		}
		if err := inbox.Apply(model.EventNewNotification, []byte("{")); err == nil {
			t.Error("无效JSON应返回错误")
		}
	})
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	q := messaging.NewMemoryQueue()
	t.Cleanup(func() { q.Close() })
	reg := registry.New()

	if err := worker.NewPersistenceWorker(q, db.Notification(), 1, time.Second).Start(); err != nil {
		t.Fatalf("PersistenceWorker.Start() error = %v", err)
	}
	if err := worker.NewFanoutWorker(q, reg, "fanout-client-test").Start(); err != nil {
		t.Fatalf("FanoutWorker.Start() error = %v", err)
	}

	handlers := api.NewHandlers(
		service.NewGateway(q, time.Second),
		service.NewNotificationService(db.Notification(), q, time.Second),
		service.NewUserService(db.User()),
		reg,
		nil,
		api.StreamOptions{Buffer: 16, Heartbeat: 50 * time.Millisecond},
	)
	srv := api.NewServer(api.ServerOptions{Port: "0"})
	srv.SetupRoutes(handlers)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(handlers.CloseStreams)
	return ts
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("等待条件超时")
}

func TestManager_EndToEnd(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ctx := context.Background()

	m := NewManager(ts.URL)
	if err := m.Join(ctx, "u1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("未连接时 err = %v, want ErrNotConnected", err)
	}

	if err := m.Connect(ctx, ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	if m.ConnectionID() == "" {
		t.Fatal("连接后应有 connectionId")
	}
	if err := m.Connect(ctx, ""); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("重复连接 err = %v, want ErrAlreadyConnected", err)
	}

	if err := m.Join(ctx, "u1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if err := m.RequestInitial(ctx, "u1", "web"); err != nil {
		t.Fatalf("RequestInitial() error = %v", err)
	}

	provisionalID, err := m.CreateNotification(ctx, CreateInput{UserID: "u1", Body: "你好"})
	if err != nil {
		t.Fatalf("CreateNotification() error = %v", err)
	}
	var persisted model.View
	waitFor(t, func() bool {
		for _, item := range m.Inbox().Items() {
			if item.ProvisionalID == provisionalID && item.Persisted() {
				persisted = item
				return true
			}
		}
		return false
	})
	if n := len(m.Inbox().Items()); n != 1 {
		t.Errorf("Inbox 条目数 = %d, want 1", n)
	}

	view, err := m.ChangeStatus(ctx, persisted.ID, "read")
	if err != nil {
		t.Fatalf("ChangeStatus() error = %v", err)
	}
	if view.Status != model.StatusRead {
		t.Errorf("Status = %s, want read", view.Status)
	}
	waitFor(t, func() bool { return m.Inbox().Unread() == 0 })

	_, err = m.ChangeStatus(ctx, "missing", "read")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("err = %v, want 404 APIError", err)
	}

	if err := m.Leave(ctx, "u1"); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if m.ConnectionID() != "" {
		t.Error("关闭后 connectionId 应为空")
	}
}

func TestManager_ConnectRejected(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"缺少访问令牌"}`))
	}))
	t.Cleanup(ts.Close)

	m := NewManager(ts.URL, WithToken("bad"))
	if err := m.Connect(context.Background(), "u1"); err == nil {
		t.Fatal("服务端拒绝时应返回错误")
	}
	if m.ConnectionID() != "" {
		t.Error("失败后不应保留连接状态")
	}
}
