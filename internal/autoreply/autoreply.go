// Package autoreply produces automated answers to customer text messages.
package autoreply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/memohai/socialdesk/internal/config"
)

// DefaultReply is the catalogue answer used when no generator is reachable.
const DefaultReply = "Thanks for your message! We'll get back to you shortly."

const maxReplyBytes = 64 << 10

// ErrNoReply is returned when the generator has nothing to say.
var ErrNoReply = errors.New("autoreply: empty reply")

// Generator produces a reply to the latest customer text of a conversation.
type Generator interface {
	GenerateAutoReply(ctx context.Context, conversationID, latestText string) (string, error)
}

// CatalogueGenerator always answers with the same text.
type CatalogueGenerator struct {
	Text string
}

// GenerateAutoReply returns the catalogue text.
func (g CatalogueGenerator) GenerateAutoReply(context.Context, string, string) (string, error) {
	text := strings.TrimSpace(g.Text)
	if text == "" {
		return "", ErrNoReply
	}
	return text, nil
}

type generateRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type generateResponse struct {
	Reply string `json:"reply"`
}

// HTTPGenerator asks an external service for the reply and falls back to
// another generator when the call fails or yields nothing.
type HTTPGenerator struct {
	url      string
	client   *http.Client
	fallback Generator
	logger   *slog.Logger
}

// NewHTTPGenerator creates a generator posting to url.
func NewHTTPGenerator(log *slog.Logger, url string, timeout time.Duration, fallback Generator) *HTTPGenerator {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPGenerator{
		url:      strings.TrimSpace(url),
		client:   &http.Client{Timeout: timeout},
		fallback: fallback,
		logger:   log.With(slog.String("service", "autoreply")),
	}
}

// GenerateAutoReply posts {conversation_id, text} and returns the reply field.
func (g *HTTPGenerator) GenerateAutoReply(ctx context.Context, conversationID, latestText string) (string, error) {
	reply, err := g.call(ctx, conversationID, latestText)
	if err == nil {
		return reply, nil
	}
	if g.fallback == nil {
		return "", err
	}
	g.logger.Warn("reply generator failed, using fallback",
		slog.String("conversation_id", conversationID),
		slog.Any("error", err))
	return g.fallback.GenerateAutoReply(ctx, conversationID, latestText)
}

func (g *HTTPGenerator) call(ctx context.Context, conversationID, latestText string) (string, error) {
	body, err := json.Marshal(generateRequest{ConversationID: conversationID, Text: latestText})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("read generator response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("generator status %d", resp.StatusCode)
	}
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode generator response: %w", err)
	}
	reply := strings.TrimSpace(out.Reply)
	if reply == "" {
		return "", ErrNoReply
	}
	return reply, nil
}

// New builds the configured generator: the HTTP generator backed by the
// catalogue when a generator URL is set, the catalogue alone otherwise.
func New(log *slog.Logger, cfg config.AutoReplyConfig) Generator {
	catalogue := CatalogueGenerator{Text: DefaultReply}
	if strings.TrimSpace(cfg.GeneratorURL) == "" {
		return catalogue
	}
	return NewHTTPGenerator(log, cfg.GeneratorURL, time.Duration(cfg.TimeoutSeconds)*time.Second, catalogue)
}
