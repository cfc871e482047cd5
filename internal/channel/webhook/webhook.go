// Package webhook holds the platform-neutral half of the webhook gateway:
// subscription challenges, payload signatures and per-entry ingestion.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/credentials"
)

// SignatureHeader carries the HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Hub-Signature-256"

var (
	// ErrMalformed rejects payloads that cannot be attributed to the platform.
	ErrMalformed = errors.New("malformed webhook payload")
	// ErrSignature rejects entries whose signature does not match the app secret.
	ErrSignature = errors.New("webhook signature mismatch")
)

// Event is one message-bearing event inside an entry.
type Event struct {
	Kind channel.MessageKind
	Raw  json.RawMessage
}

// Entry is one top-level entry of a payload, addressed to one routing id.
type Entry struct {
	RoutingID string
	Events    []Event
}

// ParseFunc turns a raw payload into entries. It must fail with ErrMalformed
// when the envelope's object discriminator does not belong to the platform.
type ParseFunc func(body []byte) ([]Entry, error)

// CredentialSource resolves verify tokens and routing ids.
type CredentialSource interface {
	ListVerifyTokens(ctx context.Context, platform channel.Platform) ([]string, error)
	LookupAccountByRoutingID(ctx context.Context, platform channel.Platform, routingID string) (credentials.Credential, error)
}

// Dispatcher routes one event to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, event channel.InboundEvent) error
}

// Result is the acknowledgement body of an ingested payload.
type Result struct {
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
	Failed   int    `json:"failed"`
}

// Gateway verifies and ingests the webhook traffic of one platform.
type Gateway struct {
	platform channel.Platform
	parse    ParseFunc
	creds    CredentialSource
	router   Dispatcher
	logger   *slog.Logger
	now      func() time.Time
}

// NewGateway creates a gateway for platform.
func NewGateway(log *slog.Logger, platform channel.Platform, parse ParseFunc, creds CredentialSource, router Dispatcher) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		platform: platform,
		parse:    parse,
		creds:    creds,
		router:   router,
		logger:   log.With(slog.String("component", "webhook"), slog.String("platform", platform.String())),
		now:      time.Now,
	}
}

// Platform returns the gateway's platform.
func (g *Gateway) Platform() channel.Platform {
	return g.platform
}

// VerifyChallenge answers a subscription handshake. It succeeds only for mode
// "subscribe" and a token equal to the verify token of some credential of the
// platform, and it does not tell which check failed.
func (g *Gateway) VerifyChallenge(ctx context.Context, mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || token == "" {
		return "", false
	}
	tokens, err := g.creds.ListVerifyTokens(ctx, g.platform)
	if err != nil {
		g.logger.Error("list verify tokens failed", slog.Any("error", err))
		return "", false
	}
	matched := 0
	for _, candidate := range tokens {
		matched |= subtle.ConstantTimeCompare([]byte(candidate), []byte(token))
	}
	if matched != 1 {
		g.logger.Warn("webhook verification rejected")
		return "", false
	}
	return challenge, true
}

// Ingest parses body and dispatches every event of every entry. A failing
// entry or event is logged and counted without stopping the others. Entries
// whose routing id belongs to no account are dropped.
func (g *Gateway) Ingest(ctx context.Context, body []byte, signature string) (Result, error) {
	entries, err := g.parse(body)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	res := Result{Status: "ok"}
	receivedAt := g.now().UTC()
	for _, entry := range entries {
		accepted, failed := g.ingestEntry(ctx, entry, body, signature, receivedAt)
		res.Accepted += accepted
		res.Failed += failed
	}
	return res, nil
}

func (g *Gateway) ingestEntry(ctx context.Context, entry Entry, body []byte, signature string, receivedAt time.Time) (accepted, failed int) {
	log := g.logger.With(slog.String("routing_id", entry.RoutingID))
	if strings.TrimSpace(entry.RoutingID) == "" {
		log.Warn("entry without routing id dropped")
		return 0, 0
	}
	cred, err := g.creds.LookupAccountByRoutingID(ctx, g.platform, entry.RoutingID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			log.Warn("entry for unknown account dropped")
			return 0, 0
		}
		log.Error("resolve account failed", slog.Any("error", err))
		return 0, len(entry.Events)
	}
	if cred.AppSecret != "" && !VerifySignature(body, signature, cred.AppSecret) {
		log.Warn("entry rejected", slog.Any("error", ErrSignature))
		return 0, len(entry.Events)
	}
	for _, ev := range entry.Events {
		err := g.router.Dispatch(ctx, channel.InboundEvent{
			AccountID:        cred.AccountID,
			Platform:         g.platform,
			Kind:             ev.Kind,
			AutoReplyEnabled: cred.AutoReplyEnabled,
			ReceivedAt:       receivedAt,
			Raw:              ev.Raw,
		})
		if err != nil {
			log.Error("inbound event failed", slog.String("kind", ev.Kind.String()), slog.Any("error", err))
			failed++
			continue
		}
		accepted++
	}
	return accepted, failed
}

// VerifySignature checks a "sha256=<hex>" header against the HMAC-SHA256 of
// body keyed with secret.
func VerifySignature(body []byte, header, secret string) bool {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok || sig == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the header value VerifySignature accepts for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
