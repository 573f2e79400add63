package worker

import (
	"context"
	"fmt"

	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/model"
	"NotifyHub/pkg/registry"
)

// ChannelHandler 按渠道投递一条已对账的通知
type ChannelHandler interface {
	Deliver(ctx context.Context, view model.View, kind model.EventKind) error
}

// realtimeHandler 投递到用户的连接组
type realtimeHandler struct {
	broadcaster registry.Broadcaster
}

func (h realtimeHandler) Deliver(ctx context.Context, view model.View, kind model.EventKind) error {
	ev, err := registry.NewEvent(kind, view)
	if err != nil {
		return err
	}
	if err := h.broadcaster.Broadcast(ctx, view.TargetUserID, ev); err != nil {
		return fmt.Errorf("推送到连接组 %s 失败: %w", view.TargetUserID, err)
	}
	return nil
}

// unsupportedHandler 尚未接入投递的渠道，记录日志后确认消息
type unsupportedHandler struct {
	channel model.Channel
}

func (h unsupportedHandler) Deliver(_ context.Context, view model.View, kind model.EventKind) error {
	logger.WithFields(map[string]any{
		"channel":       h.channel,
		"provisionalId": view.ProvisionalID,
		"event":         kind,
	}).Debug("渠道暂不支持实时投递，跳过")
	return nil
}

func defaultHandlers(broadcaster registry.Broadcaster) map[model.Channel]ChannelHandler {
	realtime := realtimeHandler{broadcaster: broadcaster}
	handlers := make(map[model.Channel]ChannelHandler)
	for _, ch := range []model.Channel{model.ChannelWeb, model.ChannelEmail, model.ChannelSMS, model.ChannelPush, model.ChannelAll} {
		if ch.Realtime() {
			handlers[ch] = realtime
		} else {
			handlers[ch] = unsupportedHandler{channel: ch}
		}
	}
	return handlers
}
