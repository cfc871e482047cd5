// Package credentials exposes per-account platform credentials to the
// webhook, outbound and media components.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/memohai/socialdesk/internal/channel"
	dbpkg "github.com/memohai/socialdesk/internal/db"
	"github.com/memohai/socialdesk/internal/db/sqlc"
)

// ErrNotFound is returned when no credential matches the lookup.
var ErrNotFound = errors.New("credential not found")

// Credential is one account's integration with one platform.
type Credential struct {
	ID               string           `json:"id"`
	AccountID        string           `json:"account_id"`
	Platform         channel.Platform `json:"platform"`
	RoutingID        string           `json:"routing_id"`
	AccessToken      string           `json:"-"`
	VerifyToken      string           `json:"-"`
	AppSecret        string           `json:"-"`
	Connected        bool             `json:"connected"`
	AutoReplyEnabled bool             `json:"auto_reply_enabled"`
	NotifyEnabled    bool             `json:"notify_enabled"`
	LastError        string           `json:"last_error,omitempty"`
}

// Recipient builds the outbound address for externalID using this credential.
func (c Credential) Recipient(externalID string) channel.Recipient {
	return channel.Recipient{
		ExternalID:  externalID,
		RoutingID:   c.RoutingID,
		AccessToken: c.AccessToken,
	}
}

// Queries is the subset of sqlc queries used by Service.
type Queries interface {
	GetCredentialByAccountPlatform(ctx context.Context, arg sqlc.GetCredentialByAccountPlatformParams) (sqlc.PlatformCredential, error)
	GetCredentialByRoutingID(ctx context.Context, arg sqlc.GetCredentialByRoutingIDParams) (sqlc.PlatformCredential, error)
	ListVerifyTokensByPlatform(ctx context.Context, platform string) ([]string, error)
	MarkCredentialDisconnected(ctx context.Context, arg sqlc.MarkCredentialDisconnectedParams) (int64, error)
	UpsertCredential(ctx context.Context, arg sqlc.UpsertCredentialParams) (sqlc.PlatformCredential, error)
}

// Service reads platform credentials.
type Service struct {
	queries Queries
	logger  *slog.Logger
}

// NewService creates a credential service.
func NewService(log *slog.Logger, queries Queries) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		queries: queries,
		logger:  log.With(slog.String("service", "credentials")),
	}
}

// LookupCredential returns the credential of accountID for platform.
func (s *Service) LookupCredential(ctx context.Context, accountID string, platform channel.Platform) (Credential, error) {
	pgAccountID, err := dbpkg.ParseUUID(accountID)
	if err != nil {
		return Credential{}, fmt.Errorf("invalid account id: %w", err)
	}
	row, err := s.queries.GetCredentialByAccountPlatform(ctx, sqlc.GetCredentialByAccountPlatformParams{
		AccountID: pgAccountID,
		Platform:  platform.String(),
	})
	if err != nil {
		return Credential{}, translate(err)
	}
	return toCredential(row), nil
}

// LookupAccountByRoutingID resolves the credential owning a platform
// routing id (page id, phone number id).
func (s *Service) LookupAccountByRoutingID(ctx context.Context, platform channel.Platform, routingID string) (Credential, error) {
	routingID = strings.TrimSpace(routingID)
	if routingID == "" {
		return Credential{}, ErrNotFound
	}
	row, err := s.queries.GetCredentialByRoutingID(ctx, sqlc.GetCredentialByRoutingIDParams{
		Platform:  platform.String(),
		RoutingID: routingID,
	})
	if err != nil {
		return Credential{}, translate(err)
	}
	return toCredential(row), nil
}

// ListVerifyTokens returns every non-empty webhook verification token
// configured for platform.
func (s *Service) ListVerifyTokens(ctx context.Context, platform channel.Platform) ([]string, error) {
	return s.queries.ListVerifyTokensByPlatform(ctx, platform.String())
}

// MarkDisconnected flags a credential after the platform rejected it.
func (s *Service) MarkDisconnected(ctx context.Context, id, reason string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid credential id: %w", err)
	}
	n, err := s.queries.MarkCredentialDisconnected(ctx, sqlc.MarkCredentialDisconnectedParams{
		ID:        pgID,
		LastError: dbpkg.Text(reason),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Warn("credential marked disconnected", slog.String("credential_id", id), slog.String("reason", reason))
	return nil
}

// UpsertInput configures an integration.
type UpsertInput struct {
	AccountID   string
	Platform    channel.Platform
	RoutingID   string
	AccessToken string
	VerifyToken string
	AppSecret   string
}

// Upsert creates or reconnects the credential of an account for a platform.
func (s *Service) Upsert(ctx context.Context, in UpsertInput) (Credential, error) {
	pgAccountID, err := dbpkg.ParseUUID(in.AccountID)
	if err != nil {
		return Credential{}, fmt.Errorf("invalid account id: %w", err)
	}
	if strings.TrimSpace(in.RoutingID) == "" {
		return Credential{}, fmt.Errorf("routing id is required")
	}
	row, err := s.queries.UpsertCredential(ctx, sqlc.UpsertCredentialParams{
		AccountID:   pgAccountID,
		Platform:    in.Platform.String(),
		RoutingID:   strings.TrimSpace(in.RoutingID),
		AccessToken: strings.TrimSpace(in.AccessToken),
		VerifyToken: strings.TrimSpace(in.VerifyToken),
		AppSecret:   strings.TrimSpace(in.AppSecret),
	})
	if err != nil {
		return Credential{}, err
	}
	return toCredential(row), nil
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func toCredential(row sqlc.PlatformCredential) Credential {
	return Credential{
		ID:               dbpkg.UUIDString(row.ID),
		AccountID:        dbpkg.UUIDString(row.AccountID),
		Platform:         channel.Platform(row.Platform),
		RoutingID:        row.RoutingID,
		AccessToken:      row.AccessToken,
		VerifyToken:      row.VerifyToken,
		AppSecret:        row.AppSecret,
		Connected:        row.Connected,
		AutoReplyEnabled: row.AutoReplyEnabled,
		NotifyEnabled:    row.NotifyEnabled,
		LastError:        dbpkg.TextValue(row.LastError),
	}
}
