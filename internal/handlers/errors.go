package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/socialdesk/internal/identity"
	"github.com/memohai/socialdesk/internal/message"
)

// ErrorResponse is the body of echo HTTP errors.
type ErrorResponse struct {
	Message string `json:"message"`
}

// httpError maps domain errors to HTTP errors.
func httpError(err error) error {
	switch {
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, message.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, message.ErrInvalidContent), errors.Is(err, message.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
