// Package identity maps platform sender ids to durable contacts and
// per-account conversations.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/socialdesk/internal/channel"
	dbpkg "github.com/memohai/socialdesk/internal/db"
	"github.com/memohai/socialdesk/internal/db/sqlc"
)

// ErrNotFound is returned when a conversation does not exist or is owned by
// another account.
var ErrNotFound = errors.New("conversation not found")

// Contact is a platform-scoped external identity.
type Contact struct {
	ID          string           `json:"id"`
	Platform    channel.Platform `json:"platform"`
	ExternalID  string           `json:"external_id"`
	DisplayName string           `json:"display_name"`
	AvatarURL   string           `json:"avatar_url,omitempty"`
	CustomerRef string           `json:"customer_ref,omitempty"`
}

// Conversation is the thread between one account and one contact.
type Conversation struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	ContactID string    `json:"contact_id"`
	AutoReply bool      `json:"auto_reply"`
	Contact   Contact   `json:"contact"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilter narrows ListConversations. Empty fields match everything.
type ListFilter struct {
	Platform  channel.Platform
	ContactID string
}

// Queries is the subset of sqlc queries used by Resolver.
type Queries interface {
	UpsertSocialContact(ctx context.Context, arg sqlc.UpsertSocialContactParams) (sqlc.SocialContact, error)
	GetSocialContact(ctx context.Context, id pgtype.UUID) (sqlc.SocialContact, error)
	UpsertConversation(ctx context.Context, arg sqlc.UpsertConversationParams) (sqlc.Conversation, error)
	GetConversation(ctx context.Context, id pgtype.UUID) (sqlc.Conversation, error)
	ListConversations(ctx context.Context, arg sqlc.ListConversationsParams) ([]sqlc.ListConversationsRow, error)
	SetConversationAutoReply(ctx context.Context, arg sqlc.SetConversationAutoReplyParams) (sqlc.Conversation, error)
}

// Resolver performs get-or-create of contacts and conversations. Both
// operations are single upsert statements, so concurrent deliveries for the
// same key converge on one row.
type Resolver struct {
	queries Queries
	logger  *slog.Logger
}

// NewResolver creates an identity resolver.
func NewResolver(log *slog.Logger, queries Queries) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		queries: queries,
		logger:  log.With(slog.String("service", "identity")),
	}
}

// ResolveContact returns the contact for (platform, externalID), creating it
// on first sight. A non-empty displayName replaces a different stored name.
func (r *Resolver) ResolveContact(ctx context.Context, platform channel.Platform, externalID, displayName string) (Contact, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Contact{}, fmt.Errorf("external id is required")
	}
	if platform == "" {
		return Contact{}, fmt.Errorf("platform is required")
	}
	row, err := r.queries.UpsertSocialContact(ctx, sqlc.UpsertSocialContactParams{
		Platform:    platform.String(),
		ExternalID:  externalID,
		DisplayName: strings.TrimSpace(displayName),
	})
	if err != nil {
		return Contact{}, fmt.Errorf("upsert contact: %w", err)
	}
	return toContact(row), nil
}

// ResolveConversation returns the conversation between accountID and contact,
// creating it with auto reply enabled on first sight.
func (r *Resolver) ResolveConversation(ctx context.Context, accountID string, contact Contact) (Conversation, error) {
	pgAccountID, err := dbpkg.ParseUUID(accountID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid account id: %w", err)
	}
	pgContactID, err := dbpkg.ParseUUID(contact.ID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid contact id: %w", err)
	}
	row, err := r.queries.UpsertConversation(ctx, sqlc.UpsertConversationParams{
		AccountID: pgAccountID,
		ContactID: pgContactID,
	})
	if err != nil {
		return Conversation{}, fmt.Errorf("upsert conversation: %w", err)
	}
	conv := toConversation(row)
	conv.Contact = contact
	return conv, nil
}

// ConversationByID loads a conversation together with its contact.
func (r *Resolver) ConversationByID(ctx context.Context, conversationID string) (Conversation, error) {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, ErrNotFound
	}
	row, err := r.queries.GetConversation(ctx, pgID)
	if err != nil {
		return Conversation{}, translate(err)
	}
	contact, err := r.queries.GetSocialContact(ctx, row.ContactID)
	if err != nil {
		return Conversation{}, fmt.Errorf("load contact: %w", translate(err))
	}
	conv := toConversation(row)
	conv.Contact = toContact(contact)
	return conv, nil
}

// OwnedConversation loads a conversation and checks it belongs to accountID.
func (r *Resolver) OwnedConversation(ctx context.Context, accountID, conversationID string) (Conversation, error) {
	conv, err := r.ConversationByID(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if conv.AccountID != strings.TrimSpace(accountID) {
		return Conversation{}, ErrNotFound
	}
	return conv, nil
}

// ListConversations returns an account's conversations, most recent first.
func (r *Resolver) ListConversations(ctx context.Context, accountID string, filter ListFilter) ([]Conversation, error) {
	pgAccountID, err := dbpkg.ParseUUID(accountID)
	if err != nil {
		return nil, fmt.Errorf("invalid account id: %w", err)
	}
	params := sqlc.ListConversationsParams{
		AccountID: pgAccountID,
		Platform:  dbpkg.Text(filter.Platform.String()),
	}
	if strings.TrimSpace(filter.ContactID) != "" {
		params.ContactID, err = dbpkg.ParseUUID(filter.ContactID)
		if err != nil {
			return nil, fmt.Errorf("invalid contact id: %w", err)
		}
	}
	rows, err := r.queries.ListConversations(ctx, params)
	if err != nil {
		return nil, err
	}
	items := make([]Conversation, 0, len(rows))
	for _, row := range rows {
		items = append(items, Conversation{
			ID:        dbpkg.UUIDString(row.ID),
			AccountID: dbpkg.UUIDString(row.AccountID),
			ContactID: dbpkg.UUIDString(row.ContactID),
			AutoReply: row.AutoReply,
			CreatedAt: dbpkg.TimeValue(row.CreatedAt),
			UpdatedAt: dbpkg.TimeValue(row.UpdatedAt),
			Contact: Contact{
				ID:          dbpkg.UUIDString(row.ContactID),
				Platform:    channel.Platform(row.Platform),
				ExternalID:  row.ExternalID,
				DisplayName: row.DisplayName,
				AvatarURL:   dbpkg.TextValue(row.AvatarUrl),
			},
		})
	}
	return items, nil
}

// SetAutoReply toggles automated replies on a conversation owned by accountID.
func (r *Resolver) SetAutoReply(ctx context.Context, accountID, conversationID string, enabled bool) (Conversation, error) {
	pgAccountID, err := dbpkg.ParseUUID(accountID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid account id: %w", err)
	}
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, ErrNotFound
	}
	row, err := r.queries.SetConversationAutoReply(ctx, sqlc.SetConversationAutoReplyParams{
		ID:        pgID,
		AccountID: pgAccountID,
		AutoReply: enabled,
	})
	if err != nil {
		return Conversation{}, translate(err)
	}
	r.logger.Info("auto reply toggled", slog.String("conversation_id", conversationID), slog.Bool("enabled", enabled))
	return toConversation(row), nil
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func toContact(row sqlc.SocialContact) Contact {
	return Contact{
		ID:          dbpkg.UUIDString(row.ID),
		Platform:    channel.Platform(row.Platform),
		ExternalID:  row.ExternalID,
		DisplayName: row.DisplayName,
		AvatarURL:   dbpkg.TextValue(row.AvatarUrl),
		CustomerRef: dbpkg.TextValue(row.CustomerRef),
	}
}

func toConversation(row sqlc.Conversation) Conversation {
	return Conversation{
		ID:        dbpkg.UUIDString(row.ID),
		AccountID: dbpkg.UUIDString(row.AccountID),
		ContactID: dbpkg.UUIDString(row.ContactID),
		AutoReply: row.AutoReply,
		CreatedAt: dbpkg.TimeValue(row.CreatedAt),
		UpdatedAt: dbpkg.TimeValue(row.UpdatedAt),
	}
}
