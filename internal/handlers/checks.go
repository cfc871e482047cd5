package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/socialdesk/internal/auth"
	"github.com/memohai/socialdesk/internal/healthcheck"
)

type ChecksHandler struct {
	checker healthcheck.Checker
	logger  *slog.Logger
}

// ChecksResponse lists runtime checks of the caller's account.
type ChecksResponse struct {
	Status string                    `json:"status"`
	Checks []healthcheck.CheckResult `json:"checks"`
}

func NewChecksHandler(log *slog.Logger, checker healthcheck.Checker) *ChecksHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChecksHandler{
		checker: checker,
		logger:  log.With(slog.String("handler", "checks")),
	}
}

func (h *ChecksHandler) Register(e *echo.Echo) {
	e.GET("/checks", h.List)
}

// List godoc
// @Summary Runtime checks of the caller's account
// @Tags checks
// @Success 200 {object} ChecksResponse
// @Router /checks [get]
func (h *ChecksHandler) List(c echo.Context) error {
	accountID, err := auth.AccountIDFromContext(c)
	if err != nil {
		return err
	}
	items := h.checker.ListChecks(c.Request().Context(), accountID)
	return c.JSON(http.StatusOK, ChecksResponse{Status: healthcheck.Overall(items), Checks: items})
}
