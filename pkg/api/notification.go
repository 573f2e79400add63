package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/service"
)

// UpdateStatusRequest 状态变更请求
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=unread read"`
}

// CreateNotification 受理通知，入队成功即返回202
func (h *Handlers) CreateNotification(c *gin.Context) {
	var req service.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	draft, err := h.gateway.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":       "通知已进入队列",
		"provisionalId": draft.ProvisionalID,
	})
}

// ListNotifications 用户在某渠道的通知历史，最新的在前
func (h *Handlers) ListNotifications(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	if authUser := AuthUserID(c); authUser != "" && userID != authUser {
		respondError(c, errno.Wrap(errno.ErrForbidden, "不能查询其他用户的通知"))
		return
	}

	views, err := h.notifications.History(c.Request.Context(), userID, c.Param("channel"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": views,
	})
}

// UpdateNotificationStatus 更新通知状态
func (h *Handlers) UpdateNotificationStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.notifications.ChangeStatus(c.Request.Context(), AuthUserID(c), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}
