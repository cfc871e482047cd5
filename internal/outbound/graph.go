package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/memohai/socialdesk/internal/config"
)

const maxGraphResponseBytes = 1 << 20

// GraphClient performs authenticated JSON calls against the Graph API.
type GraphClient struct {
	baseURL string
	version string
	http    *http.Client
}

// NewGraphClient creates a client for the configured Graph endpoint.
func NewGraphClient(cfg config.GraphConfig) *GraphClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GraphClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		version: strings.Trim(cfg.Version, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// URL joins path onto the versioned base.
func (c *GraphClient) URL(path string) string {
	return c.baseURL + "/" + c.version + "/" + strings.TrimLeft(path, "/")
}

// PostJSON sends body to path with token as bearer and decodes the reply into out.
func (c *GraphClient) PostJSON(ctx context.Context, token, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %w", ErrPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, token, req, out)
}

// GetJSON fetches path with token as bearer and decodes the reply into out.
func (c *GraphClient) GetJSON(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrPermanent, err)
	}
	return c.do(ctx, token, req, out)
}

func (c *GraphClient) do(ctx context.Context, token string, req *http.Request, out any) error {
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.http), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client.Timeout = c.http.Timeout
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGraphResponseBytes))
	if err != nil {
		return fmt.Errorf("read graph response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ParseAPIError(resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}
