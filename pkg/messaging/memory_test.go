package messaging

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// waitFor 轮询直到条件成立或超时
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("等待条件超时")
}

func newMemoryQueue(t *testing.T) *MemoryQueue {
	t.Helper()
	q := NewMemoryQueue()
	t.Cleanup(func() { q.Close() })
	return q
}

func TestMemoryQueue_Delivery(t *testing.T) {
	t.Parallel()

	t.Run("按发布顺序投递", func(t *testing.T) {
		t.Parallel()
		q := newMemoryQueue(t)

		var mu sync.Mutex
		var kinds []Kind
		err := q.Subscribe(TopicRealtime, "fanout", 1, func(_ context.Context, msg Message) error {
			mu.Lock()
			defer mu.Unlock()
			kinds = append(kinds, msg.Kind())
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}

		ctx := context.Background()
		if err := q.Publish(ctx, TopicRealtime, Pending{Draft: testDraft()}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if err := q.Publish(ctx, TopicRealtime, Persisted{Record: testRecord()}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(kinds) == 2
		})
		if kinds[0] != KindPending || kinds[1] != KindPersisted {
			t.Errorf("顺序 = %v, want [pending persisted]", kinds)
		}
	})

	t.Run("处理失败后重新投递", func(t *testing.T) {
		t.Parallel()
		q := newMemoryQueue(t)

		var calls atomic.Int32
		err := q.Subscribe(TopicPersistence, "persistence", 1, func(_ context.Context, _ Message) error {
			if calls.Add(1) < 3 {
				return errors.New("db down")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
		if err := q.Publish(context.Background(), TopicPersistence, Pending{Draft: testDraft()}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		waitFor(t, func() bool { return calls.Load() == 3 })
	})

	t.Run("panic不会终止消费者", func(t *testing.T) {
		t.Parallel()
		q := newMemoryQueue(t)

		var calls atomic.Int32
		err := q.Subscribe(TopicRealtime, "fanout", 1, func(_ context.Context, _ Message) error {
			if calls.Add(1) == 1 {
				panic("boom")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
		if err := q.Publish(context.Background(), TopicRealtime, Pending{Draft: testDraft()}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		waitFor(t, func() bool { return calls.Load() == 2 })
	})

	t.Run("持久化主题在订阅前暂存消息", func(t *testing.T) {
		t.Parallel()
		q := newMemoryQueue(t)

		if err := q.Publish(context.Background(), TopicPersistence, Pending{Draft: testDraft()}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		var calls atomic.Int32
		err := q.Subscribe(TopicPersistence, "persistence", 2, func(_ context.Context, _ Message) error {
			calls.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
		waitFor(t, func() bool { return calls.Load() == 1 })
		if got := q.Published(TopicPersistence); got != 1 {
			t.Errorf("Published() = %d, want 1", got)
		}
	})

	t.Run("不同消费者名各自收到消息", func(t *testing.T) {
		t.Parallel()
		q := newMemoryQueue(t)

		var a, b atomic.Int32
		_ = q.Subscribe(TopicRealtime, "fanout-a", 1, func(_ context.Context, _ Message) error { a.Add(1); return nil })
		_ = q.Subscribe(TopicRealtime, "fanout-b", 1, func(_ context.Context, _ Message) error { b.Add(1); return nil })

		if err := q.Publish(context.Background(), TopicRealtime, Pending{Draft: testDraft()}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		waitFor(t, func() bool { return a.Load() == 1 && b.Load() == 1 })
	})
}

func TestMemoryQueue_PublishErrors(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	if err := q.Publish(context.Background(), TopicPersistence, Persisted{Record: testRecord()}); !errors.Is(err, errno.ErrMalformedMessage) {
		t.Errorf("err = %v, want ErrMalformedMessage", err)
	}

	q.Close()
	if err := q.Publish(context.Background(), TopicRealtime, Pending{Draft: testDraft()}); !errors.Is(err, errno.ErrQueueUnavailable) {
		t.Errorf("关闭后 err = %v, want ErrQueueUnavailable", err)
	}
}
