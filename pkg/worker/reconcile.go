package worker

import (
	"NotifyHub/pkg/messaging"
	"NotifyHub/pkg/model"
)

// Reconcile 将队列消息转换为客户端视图及事件类型。
// 没有持久化ID的是乐观投递，产生 new_notification；
// 有持久化ID的（对账或状态变更）产生 notification_updated，
// 客户端按 provisionalId 或 id 做插入或合并。
func Reconcile(msg messaging.Message) (model.View, model.EventKind) {
	view := msg.View()
	if view.Persisted() {
		return view, model.EventNotificationUpdated
	}
	return view, model.EventNewNotification
}
