package model

// EventKind 推送给客户端连接的事件名
type EventKind string

const (
	EventConnected            EventKind = "connected"
	EventNewNotification      EventKind = "new_notification"
	EventNotificationUpdated  EventKind = "notification_updated"
	EventInitialNotifications EventKind = "initial_notifications"
)
