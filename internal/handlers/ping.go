package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/socialdesk/internal/version"
)

// Pinger checks a backing dependency for liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingHandler struct {
	db     Pinger
	logger *slog.Logger
}

func NewPingHandler(log *slog.Logger, db Pinger) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{db: db, logger: log.With(slog.String("handler", "ping"))}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	if h.db != nil {
		if err := h.db.Ping(c.Request().Context()); err != nil {
			h.logger.Warn("health check failed", slog.Any("error", err))
			return c.NoContent(http.StatusServiceUnavailable)
		}
	}
	return c.NoContent(http.StatusOK)
}
