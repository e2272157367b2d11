package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"escrowdesk/internal/models"
	"escrowdesk/internal/notifications"
)

type NotificationsResponse struct {
	Items  []models.Notification `json:"items"`
	Unread int64                 `json:"unread"`
}

type ReadAllResponse struct {
	Updated int64 `json:"updated"`
}

// ListNotifications godoc
// @Summary Уведомления пользователя
// @Tags notifications
// @Security BearerAuth
// @Produce json
// @Param unread query bool false "только непрочитанные"
// @Param limit query int false "лимит"
// @Param offset query int false "смещение"
// @Success 200 {object} NotificationsResponse
// @Failure 401 {object} ErrorResponse
// @Router /notifications [get]
func ListNotifications(svc *notifications.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		limit, offset := parsePagination(c)
		list, err := svc.List(c.Request.Context(), userID, c.Query("unread") == "true", limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		unread, err := svc.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		if list == nil {
			list = []models.Notification{}
		}
		c.JSON(http.StatusOK, NotificationsResponse{Items: list, Unread: unread})
	}
}

// ReadNotification godoc
// @Summary Отметить уведомление прочитанным
// @Tags notifications
// @Security BearerAuth
// @Produce json
// @Param id path string true "ID уведомления"
// @Success 200 {object} models.Notification
// @Failure 404 {object} ErrorResponse
// @Router /notifications/{id}/read [patch]
func ReadNotification(svc *notifications.Service) gin.HandlerFunc {
	return markNotification(svc.MarkRead)
}

// UnreadNotification godoc
// @Summary Вернуть уведомлению статус непрочитанного
// @Tags notifications
// @Security BearerAuth
// @Produce json
// @Param id path string true "ID уведомления"
// @Success 200 {object} models.Notification
// @Failure 404 {object} ErrorResponse
// @Router /notifications/{id}/unread [patch]
func UnreadNotification(svc *notifications.Service) gin.HandlerFunc {
	return markNotification(svc.MarkUnread)
}

func markNotification(mark func(ctx context.Context, userID, id string) (*models.Notification, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		n, err := mark(c.Request.Context(), userID, c.Param("id"))
		if errors.Is(err, notifications.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

// ReadAllNotifications godoc
// @Summary Отметить все уведомления прочитанными
// @Tags notifications
// @Security BearerAuth
// @Produce json
// @Success 200 {object} ReadAllResponse
// @Router /notifications/read-all [post]
func ReadAllNotifications(svc *notifications.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		n, err := svc.MarkAllRead(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		c.JSON(http.StatusOK, ReadAllResponse{Updated: n})
	}
}
