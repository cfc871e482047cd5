package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"

	"github.com/memohai/socialdesk/internal/auth"
	"github.com/memohai/socialdesk/internal/media"
)

const sniffBytes = 3072

// MediaReader opens stored media by key.
type MediaReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MediaHandler serves downloaded attachments to the owning account.
type MediaHandler struct {
	storage MediaReader
	logger  *slog.Logger
}

func NewMediaHandler(log *slog.Logger, storage MediaReader) *MediaHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MediaHandler{
		storage: storage,
		logger:  log.With(slog.String("handler", "media")),
	}
}

func (h *MediaHandler) Register(e *echo.Echo) {
	e.GET("/media/*", h.Serve)
}

// Serve godoc
// @Summary Download a stored attachment
// @Tags media
// @Param path path string true "Storage key"
// @Success 200 {file} binary
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /media/{path} [get]
func (h *MediaHandler) Serve(c echo.Context) error {
	accountID, err := auth.AccountIDFromContext(c)
	if err != nil {
		return err
	}
	key := path.Clean("/" + strings.TrimSpace(c.Param("*")))[1:]
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "storage key is required")
	}
	if !strings.HasPrefix(key, accountID+"/") {
		return echo.NewHTTPError(http.StatusForbidden, "media does not belong to account")
	}
	reader, err := h.storage.Open(c.Request().Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrAssetNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "media not found")
		case errors.Is(err, media.ErrPathTraversal):
			return echo.NewHTTPError(http.StatusBadRequest, "invalid storage key")
		}
		h.logger.Error("open media failed", slog.String("key", key), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "open media failed")
	}
	defer reader.Close()

	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(reader, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return echo.NewHTTPError(http.StatusInternalServerError, "read media failed")
	}
	head = head[:n]
	contentType := mimetype.Detect(head).String()

	c.Response().Header().Set("Cache-Control", "private, max-age=86400")
	c.Response().Header().Set("Content-Disposition", `inline; filename="`+path.Base(key)+`"`)
	return c.Stream(http.StatusOK, contentType, io.MultiReader(bytes.NewReader(head), reader))
}
