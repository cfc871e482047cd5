// Package outbound delivers operator and automated replies to the platform
// APIs and decides which failures are worth retrying.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/config"
	"github.com/memohai/socialdesk/internal/credentials"
)

// Policy configures send retries.
type Policy struct {
	RetryMax       int
	RetryBackoffMs int
}

// PolicyFromConfig maps the outbound config section onto a Policy.
func PolicyFromConfig(cfg config.OutboundConfig) Policy {
	return Policy{RetryMax: cfg.RetryMax, RetryBackoffMs: cfg.RetryBackoffMs}
}

// NormalizePolicy fills zero-value fields with defaults.
func NormalizePolicy(policy Policy) Policy {
	if policy.RetryMax <= 0 {
		policy.RetryMax = 3
	}
	if policy.RetryBackoffMs <= 0 {
		policy.RetryBackoffMs = 500
	}
	return policy
}

// CredentialStore is the credential capability the dispatcher needs.
type CredentialStore interface {
	LookupCredential(ctx context.Context, accountID string, platform channel.Platform) (credentials.Credential, error)
	MarkDisconnected(ctx context.Context, id, reason string) error
}

// HandlerSource resolves the handler of a platform and message kind.
type HandlerSource interface {
	Lookup(platform channel.Platform, kind channel.MessageKind) channel.Handler
}

// Dispatcher sends text to a contact through the account's platform integration.
type Dispatcher struct {
	creds    CredentialStore
	handlers HandlerSource
	policy   Policy
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(log *slog.Logger, creds CredentialStore, handlers HandlerSource, policy Policy) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		creds:    creds,
		handlers: handlers,
		policy:   NormalizePolicy(policy),
		logger:   log.With(slog.String("service", "outbound")),
		sleep:    sleepContext,
	}
}

// Send delivers text to recipientID through the platform's text handler.
// Credential problems are reported without contacting the platform; an expired
// token also flags the credential as disconnected. Transient failures are
// retried with exponential backoff.
func (d *Dispatcher) Send(ctx context.Context, accountID string, platform channel.Platform, recipientID, text string) (channel.SendResult, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return channel.SendResult{}, fmt.Errorf("%w: recipient is required", ErrPermanent)
	}
	cred, err := d.creds.LookupCredential(ctx, accountID, platform)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return channel.SendResult{}, fmt.Errorf("%w: %s", ErrCredentialMissing, platform)
		}
		return channel.SendResult{}, fmt.Errorf("load credential: %w", err)
	}
	if !cred.Connected {
		return channel.SendResult{}, fmt.Errorf("%w: %s", ErrCredentialDisconnected, platform)
	}
	if strings.TrimSpace(cred.AccessToken) == "" {
		return channel.SendResult{}, fmt.Errorf("%w: %s has no access token", ErrCredentialMissing, platform)
	}
	handler := d.handlers.Lookup(platform, channel.KindText)

	to := cred.Recipient(recipientID)
	var lastErr error
	for attempt := 0; attempt <= d.policy.RetryMax; attempt++ {
		if attempt > 0 {
			backoff := d.backoff(attempt)
			d.logger.Warn("send outbound retry",
				slog.String("platform", platform.String()),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.Any("error", lastErr))
			if err := d.sleep(ctx, backoff); err != nil {
				return channel.SendResult{}, err
			}
		}
		result, err := handler.SendReply(ctx, to, text)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, channel.ErrNoSender) {
			return channel.SendResult{}, fmt.Errorf("%w: %s", channel.ErrNoSender, platform)
		}
		lastErr = err
		switch classify(err) {
		case classExpired:
			d.flagExpired(ctx, cred, err)
			return channel.SendResult{}, fmt.Errorf("%w: %w", ErrCredentialExpired, err)
		case classPermanent:
			if errors.Is(err, ErrPermanent) {
				return channel.SendResult{}, err
			}
			return channel.SendResult{}, fmt.Errorf("%w: %w", ErrPermanent, err)
		}
	}
	return channel.SendResult{}, fmt.Errorf("send outbound failed after retries: %w", lastErr)
}

// backoff grows quadratically from RetryBackoffMs with up to 50% jitter.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * time.Duration(d.policy.RetryBackoffMs) * time.Millisecond
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

func (d *Dispatcher) flagExpired(ctx context.Context, cred credentials.Credential, cause error) {
	if err := d.creds.MarkDisconnected(context.WithoutCancel(ctx), cred.ID, cause.Error()); err != nil {
		d.logger.Error("mark credential disconnected failed",
			slog.String("credential_id", cred.ID),
			slog.Any("error", err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
