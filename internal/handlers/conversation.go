package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/socialdesk/internal/auth"
	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/identity"
	"github.com/memohai/socialdesk/internal/message"
)

// HeaderConnectionID lets a websocket client that sends over REST suppress
// the echo of its own message.
const HeaderConnectionID = "X-Connection-Id"

// ConversationService reads and updates an account's conversations.
type ConversationService interface {
	ListConversations(ctx context.Context, accountID string, filter identity.ListFilter) ([]identity.Conversation, error)
	OwnedConversation(ctx context.Context, accountID, conversationID string) (identity.Conversation, error)
	SetAutoReply(ctx context.Context, accountID, conversationID string, enabled bool) (identity.Conversation, error)
}

// MessageService reads and appends conversation messages.
type MessageService interface {
	List(ctx context.Context, conversationID string, opts message.ListOptions) ([]message.Message, error)
	AppendOutbound(ctx context.Context, conv identity.Conversation, role message.Role, text, originConnID string) (message.Message, error)
	MarkRead(ctx context.Context, accountID, messageID string) error
}

// ConversationHandler serves the operator inbox.
type ConversationHandler struct {
	conversations ConversationService
	messages      MessageService
	logger        *slog.Logger
}

// AutoReplyRequest toggles automated replies for a conversation.
type AutoReplyRequest struct {
	AutoReply *bool `json:"auto_reply"`
}

// SendMessageRequest is an operator reply.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessageResponse reports the stored message and whether the platform
// accepted it.
type SendMessageResponse struct {
	Message   message.Message `json:"message"`
	Delivered bool            `json:"delivered"`
	Error     string          `json:"error,omitempty"`
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(log *slog.Logger, conversations ConversationService, messages MessageService) *ConversationHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		logger:        log.With(slog.String("handler", "conversation")),
	}
}

// Register registers the conversation and message routes.
func (h *ConversationHandler) Register(e *echo.Echo) {
	group := e.Group("/conversations")
	group.GET("", h.ListConversations)
	group.PATCH("/:id/auto-reply", h.SetAutoReply)
	group.GET("/:id/messages", h.ListMessages)
	group.POST("/:id/messages", h.SendMessage)
	e.POST("/messages/:id/read", h.MarkRead)
}

// ListConversations godoc
// @Summary List conversations
// @Tags conversations
// @Param platform query string false "Platform filter"
// @Param contact_id query string false "Contact filter"
// @Success 200 {array} identity.Conversation
// @Failure 400 {object} ErrorResponse
// @Router /conversations [get]
func (h *ConversationHandler) ListConversations(c echo.Context) error {
	accountID, err := auth.AccountIDFromContext(c)
	if err != nil {
		return err
	}
	filter := identity.ListFilter{ContactID: strings.TrimSpace(c.QueryParam("contact_id"))}
	if raw := strings.TrimSpace(c.QueryParam("platform")); raw != "" {
		platform, err := channel.ParsePlatform(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.Platform = platform
	}
	items, err := h.conversations.ListConversations(c.Request().Context(), accountID, filter)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// SetAutoReply godoc
// @Summary Toggle automated replies of a conversation
// @Tags conversations
// @Param id path string true "Conversation ID"
// @Param payload body AutoReplyRequest true "Toggle"
// @Success 200 {object} identity.Conversation
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /conversations/{id}/auto-reply [patch]
func (h *ConversationHandler) SetAutoReply(c echo.Context) error {
	accountID, err := auth.AccountIDFromContext(c)
	if err != nil {
		return err
	}
	var req AutoReplyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AutoReply == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "auto_reply is required")
	}
	conv, err := h.conversations.SetAutoReply(c.Request().Context(), accountID, c.Param("id"), *req.AutoReply)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

// ListMessages godoc
// @Summary List messages of a conversation
// @Tags conversations
// @Param id path string true "Conversation ID"
// @Param before_seq query int false "Return messages older than this seq"
// @Param limit query int false "Page size"
// @Success 200 {array} message.Message
// @Failure 404 {object} ErrorResponse
// @Router /conversations/{id}/messages [get]
func (h *ConversationHandler) ListMessages(c echo.Context) error {
	accountID, err := auth.AccountIDFromContext(c)
	if err != nil {
		return err
	}
	opts := message.ListOptions{}
	if raw := c.QueryParam("before_seq"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seq < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid before_seq")
		}
		opts.BeforeSeq = seq
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		opts.Limit = limit
	}
	conv, err := h.conversations.OwnedConversation(c.Request().Context(), accountID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	items, err := h.messages.List(c.Request().Context(), conv.ID, opts)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// SendMessage godoc
// @Summary Send an operator reply
// @Description Stores the message, then delivers it to the platform. A stored
// @Description message that the platform rejected is returned with 202.
// @Tags conversations
// @Param id path string true "Conversation ID"
// @Param payload body SendMessageRequest true "Reply"
// @Success 201 {object} SendMessageResponse
// @Success 202 {object} SendMessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /conversations/{id}/messages [post]
func (h *ConversationHandler) SendMessage(c echo.Context) error {
	accountID, err := auth.AccountIDFromContext(c)
	if err != nil {
		return err
	}
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	conv, err := h.conversations.OwnedConversation(ctx, accountID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	origin := strings.TrimSpace(c.Request().Header.Get(HeaderConnectionID))
	msg, err := h.messages.AppendOutbound(ctx, conv, message.RoleOperator, req.Text, origin)
	if err != nil {
		if errors.Is(err, message.ErrNotDelivered) {
			h.logger.Warn("operator reply not delivered",
				slog.String("conversation_id", conv.ID),
				slog.Any("error", err))
			return c.JSON(http.StatusAccepted, SendMessageResponse{Message: msg, Error: err.Error()})
		}
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, SendMessageResponse{Message: msg, Delivered: true})
}

// MarkRead godoc
// @Summary Mark a message as read
// @Tags messages
// @Param id path string true "Message ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /messages/{id}/read [post]
func (h *ConversationHandler) MarkRead(c echo.Context) error {
	accountID, err := auth.AccountIDFromContext(c)
	if err != nil {
		return err
	}
	if err := h.messages.MarkRead(c.Request().Context(), accountID, c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
