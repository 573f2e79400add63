package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/model"
	"NotifyHub/pkg/registry"
	"NotifyHub/pkg/service"
)

// 客户端命令类型
const (
	CommandJoinGroup          = "join-group"
	CommandLeaveGroup         = "leave-group"
	CommandRequestInitial     = "request-initial"
	CommandCreateNotification = "create-notification"
	CommandChangeStatus       = "change-status"
)

// Command 客户端通过连接发送的命令，各类型只使用其中部分字段
type Command struct {
	Type           string `json:"type" binding:"required"`
	UserID         string `json:"userId"`
	Channel        string `json:"channel"`
	NotificationID string `json:"notificationId"`
	Status         string `json:"status"`
	Title          string `json:"title"`
	Body           string `json:"body"`
}

// Stream 建立SSE推送连接。首个事件为 connected，携带 connectionId；
// 带 userId 参数时直接加入该用户的连接组
func (h *Handlers) Stream(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if authUser := AuthUserID(c); authUser != "" {
		if userID == "" {
			userID = authUser
		} else if userID != authUser {
			respondError(c, errno.Wrap(errno.ErrForbidden, "不能订阅其他用户的通知"))
			return
		}
	}

	conn := registry.NewConnection(h.stream.Buffer)
	h.registry.Register(conn)
	defer h.registry.Disconnect(conn)

	if userID != "" {
		if err := h.registry.Join(userID, conn); err != nil {
			respondError(c, errno.Validation("%v", err))
			return
		}
	}

	entry := logger.WithFields(map[string]any{
		"connection": conn.ID(),
		"userId":     userID,
	})
	entry.Info("推送连接已建立")
	defer func() {
		entry.WithFields(map[string]any{
			"duration": time.Since(conn.ConnectedAt()).Round(time.Millisecond).String(),
			"dropped":  conn.Dropped(),
		}).Info("推送连接已断开")
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	connected, err := registry.NewEvent(model.EventConnected, gin.H{
		"connectionId": conn.ID(),
		"userId":       userID,
	})
	if err != nil {
		return
	}
	writeEvent(c, connected)

	heartbeat := time.NewTicker(h.stream.Heartbeat)
	defer heartbeat.Stop()

	notify := c.Request.Context().Done()
	for {
		select {
		case <-notify:
			return
		case <-h.closing:
			return
		case <-conn.Done():
			return
		case <-heartbeat.C:
			if _, err := c.Writer.WriteString(": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case ev := <-conn.Events():
			writeEvent(c, ev)
		}
	}
}

func writeEvent(c *gin.Context, ev registry.Event) {
	c.SSEvent(string(ev.Name), string(ev.Data))
	c.Writer.Flush()
}

// Command 处理连接上的客户端命令
func (h *Handlers) Command(c *gin.Context) {
	conn, ok := h.registry.Lookup(c.Param("connectionId"))
	if !ok {
		respondError(c, errno.Wrap(errno.ErrNotFound, "%v", registry.ErrUnknownConnection))
		return
	}

	var cmd Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err)
		return
	}
	cmd.UserID = strings.TrimSpace(cmd.UserID)

	if authUser := AuthUserID(c); authUser != "" && cmd.UserID != "" && cmd.UserID != authUser {
		if cmd.Type == CommandJoinGroup || cmd.Type == CommandRequestInitial {
			respondError(c, errno.Wrap(errno.ErrForbidden, "不能访问其他用户的通知"))
			return
		}
	}

	ctx := c.Request.Context()
	switch cmd.Type {
	case CommandJoinGroup:
		if cmd.UserID == "" {
			respondError(c, errno.Validation("userId 不能为空"))
			return
		}
		if err := h.registry.Join(cmd.UserID, conn); err != nil {
			respondError(c, errno.Wrap(errno.ErrNotFound, "%v", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "joined", "userId": cmd.UserID})

	case CommandLeaveGroup:
		h.registry.Leave(cmd.UserID, conn)
		c.JSON(http.StatusOK, gin.H{"status": "left", "userId": cmd.UserID})

	case CommandRequestInitial:
		views, err := h.notifications.History(ctx, cmd.UserID, cmd.Channel)
		if err != nil {
			respondError(c, err)
			return
		}
		ev, err := registry.NewEvent(model.EventInitialNotifications, views)
		if err != nil {
			respondError(c, err)
			return
		}
		if !conn.Send(ev) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "连接已关闭或缓冲已满"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sent", "count": len(views)})

	case CommandCreateNotification:
		draft, err := h.gateway.Create(ctx, service.CreateRequest{
			TargetUserID: cmd.UserID,
			Title:        cmd.Title,
			Body:         cmd.Body,
			Status:       cmd.Status,
			Channel:      cmd.Channel,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"message":       "通知已进入队列",
			"provisionalId": draft.ProvisionalID,
		})

	case CommandChangeStatus:
		view, err := h.notifications.ChangeStatus(ctx, AuthUserID(c), cmd.NotificationID, cmd.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)

	default:
		respondError(c, errno.Validation("未知的命令类型: %s", cmd.Type))
	}
}
