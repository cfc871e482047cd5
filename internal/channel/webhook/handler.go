package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

const maxBodyBytes int64 = 1 << 20 // 1 MiB

// Handler exposes a gateway as GET/POST /webhooks/<platform>.
type Handler struct {
	gateway *Gateway
	logger  *slog.Logger
}

// NewHandler creates the HTTP surface of gateway.
func NewHandler(log *slog.Logger, gateway *Gateway) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		gateway: gateway,
		logger:  log.With(slog.String("handler", gateway.Platform().String()+"_webhook")),
	}
}

// Path returns the route of the platform's webhook.
func (h *Handler) Path() string {
	return "/webhooks/" + h.gateway.Platform().String()
}

// Register registers webhook routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET(h.Path(), h.HandleVerify)
	e.POST(h.Path(), h.Handle)
}

// HandleVerify answers the hub.* subscription challenge.
func (h *Handler) HandleVerify(c echo.Context) error {
	challenge, ok := h.gateway.VerifyChallenge(
		c.Request().Context(),
		c.QueryParam("hub.mode"),
		c.QueryParam("hub.verify_token"),
		c.QueryParam("hub.challenge"),
	)
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

// Handle ingests a webhook payload.
func (h *Handler) Handle(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > maxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", maxBodyBytes))
	}
	res, err := h.gateway.Ingest(context.WithoutCancel(c.Request().Context()), payload, c.Request().Header.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			h.logger.Warn("webhook payload rejected", slog.Any("error", err))
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
