package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/memohai/socialdesk/internal/auth"
	"github.com/memohai/socialdesk/internal/message"
)

// NotificationService reads and acknowledges notifications.
type NotificationService interface {
	ListNotifications(ctx context.Context, accountID string, unreadOnly bool, limit int) ([]message.Notification, error)
	MarkNotificationRead(ctx context.Context, accountID, notificationID string) error
}

type NotificationHandler struct {
	notifications NotificationService
	logger        *slog.Logger
}

func NewNotificationHandler(log *slog.Logger, notifications NotificationService) *NotificationHandler {
	if log == nil {
		log = slog.Default()
	}
	return &NotificationHandler{
		notifications: notifications,
		logger:        log.With(slog.String("handler", "notification")),
	}
}

func (h *NotificationHandler) Register(e *echo.Echo) {
	e.GET("/notifications", h.List)
	e.POST("/notifications/:id/read", h.MarkRead)
}

// List godoc
// @Summary List notifications
// @Tags notifications
// @Param unread query bool false "Only unread notifications"
// @Param limit query int false "Page size"
// @Success 200 {array} message.Notification
// @Router /notifications [get]
func (h *NotificationHandler) List(c echo.Context) error {
	accountID, err := auth.AccountIDFromContext(c)
	if err != nil {
		return err
	}
	unread, _ := strconv.ParseBool(c.QueryParam("unread"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.notifications.ListNotifications(c.Request().Context(), accountID, unread, limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// MarkRead godoc
// @Summary Mark a notification as read
// @Tags notifications
// @Param id path string true "Notification ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	accountID, err := auth.AccountIDFromContext(c)
	if err != nil {
		return err
	}
	if err := h.notifications.MarkNotificationRead(c.Request().Context(), accountID, c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
