package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"NotifyHub/pkg/client"
	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/model"
)

// 对运行中的服务做端到端验证：连接、拉取历史、创建通知、等待对账、修改状态
func main() {
	logger.Infof("开始端到端验证...")

	baseURL := os.Getenv("NOTIFYHUB_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	userID := os.Getenv("NOTIFYHUB_VERIFY_USER")
	if userID == "" {
		userID = "verify-" + time.Now().Format("150405")
	}

	var opts []client.Option
	if token := os.Getenv("NOTIFYHUB_TOKEN"); token != "" {
		opts = append(opts, client.WithToken(token))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m := client.NewManager(baseURL, opts...)
	if err := m.Connect(ctx, userID); err != nil {
		logger.Fatalf("建立推送连接失败: %v", err)
	}
	defer m.Close()
	logger.Infof("推送连接已建立 connection=%s user=%s", m.ConnectionID(), userID)

	if err := m.RequestInitial(ctx, userID, string(model.ChannelWeb)); err != nil {
		logger.Fatalf("请求历史失败: %v", err)
	}
	if err := waitUpdate(ctx, m); err != nil {
		logger.Fatalf("未收到历史: %v", err)
	}
	before := len(m.Inbox().Items())
	logger.Infof("历史通知 %d 条", before)

	provisionalID, err := m.CreateNotification(ctx, client.CreateInput{
		UserID: userID,
		Title:  "验证",
		Body:   fmt.Sprintf("端到端验证 %s", time.Now().Format(time.RFC3339)),
	})
	if err != nil {
		logger.Fatalf("创建通知失败: %v", err)
	}
	logger.Infof("通知已受理 provisionalId=%s", provisionalID)

	persisted, err := waitPersisted(ctx, m, provisionalID)
	if err != nil {
		logger.Fatalf("等待对账失败: %v", err)
	}
	logger.Infof("通知已持久化 id=%s", persisted.ID)

	view, err := m.ChangeStatus(ctx, persisted.ID, string(model.StatusRead))
	if err != nil {
		logger.Fatalf("修改状态失败: %v", err)
	}
	logger.Infof("状态已更新 id=%s status=%s", view.ID, view.Status)

	if got := len(m.Inbox().Items()); got != before+1 {
		logger.Fatalf("本地通知数 = %d, 期望 %d", got, before+1)
	}
	logger.Infof("验证完成")
}

func waitUpdate(ctx context.Context, m *client.Manager) error {
	select {
	case <-m.Updates():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitPersisted(ctx context.Context, m *client.Manager, provisionalID string) (model.View, error) {
	for {
		for _, item := range m.Inbox().Items() {
			if item.ProvisionalID == provisionalID && item.Persisted() {
				return item, nil
			}
		}
		if err := waitUpdate(ctx, m); err != nil {
			return model.View{}, err
		}
	}
}
