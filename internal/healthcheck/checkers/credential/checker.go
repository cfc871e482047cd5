package credentialchecker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/credentials"
	"github.com/memohai/socialdesk/internal/healthcheck"
)

const checkTypeCredential = "platform.credential"

// CredentialLookup reads an account's platform credential.
type CredentialLookup interface {
	LookupCredential(ctx context.Context, accountID string, platform channel.Platform) (credentials.Credential, error)
}

// Checker reports whether each platform integration can send.
type Checker struct {
	logger    *slog.Logger
	creds     CredentialLookup
	platforms []channel.Platform
}

// NewChecker creates a credential checker over platforms.
func NewChecker(log *slog.Logger, creds CredentialLookup, platforms ...channel.Platform) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:    log.With(slog.String("checker", "healthcheck_credential")),
		creds:     creds,
		platforms: platforms,
	}
}

// ListChecks returns one item per configured platform. Platforms without a
// credential are omitted.
func (c *Checker) ListChecks(ctx context.Context, accountID string) []healthcheck.CheckResult {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" || c.creds == nil {
		return []healthcheck.CheckResult{}
	}
	checks := make([]healthcheck.CheckResult, 0, len(c.platforms))
	for _, platform := range c.platforms {
		item := healthcheck.CheckResult{
			ID:       checkTypeCredential + "." + platform.String(),
			Type:     checkTypeCredential,
			Subtitle: platform.String(),
		}
		cred, err := c.creds.LookupCredential(ctx, accountID, platform)
		switch {
		case errors.Is(err, credentials.ErrNotFound):
			continue
		case err != nil:
			c.logger.Warn("credential lookup failed",
				slog.String("account_id", accountID),
				slog.String("platform", platform.String()),
				slog.Any("error", err))
			item.Status = healthcheck.StatusUnknown
			item.Summary = fmt.Sprintf("Could not read the %s integration.", platform)
			item.Detail = err.Error()
		case cred.Connected:
			item.Status = healthcheck.StatusOK
			item.Summary = fmt.Sprintf("%s is connected.", platform)
			item.Metadata = map[string]any{
				"routing_id":         cred.RoutingID,
				"auto_reply_enabled": cred.AutoReplyEnabled,
				"notify_enabled":     cred.NotifyEnabled,
			}
		default:
			item.Status = healthcheck.StatusError
			item.Summary = fmt.Sprintf("%s is disconnected.", platform)
			item.Detail = strings.TrimSpace(cred.LastError)
			item.Metadata = map[string]any{"routing_id": cred.RoutingID}
		}
		checks = append(checks, item)
	}
	return checks
}
