package inbound_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/channel/adapters/messenger"
	"github.com/memohai/socialdesk/internal/channel/inbound"
	"github.com/memohai/socialdesk/internal/channel/webhook"
	"github.com/memohai/socialdesk/internal/credentials"
	"github.com/memohai/socialdesk/internal/db/sqlc"
	"github.com/memohai/socialdesk/internal/identity"
	"github.com/memohai/socialdesk/internal/message"
	"github.com/memohai/socialdesk/internal/realtime/pubsub"
)

const textWebhook = `{
  "object": "page",
  "entry": [{
    "id": "page-1",
    "time": 1700000000000,
    "messaging": [
      {"sender":{"id":"psid-1"},"recipient":{"id":"page-1"},"timestamp":1700000000000,"message":{"mid":"m.1","text":"Where is my order?"}}
    ]
  }]
}`

var errNotUsed = errors.New("not used by the ingest path")

func pgNow() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: time.Now(), Valid: true}
}

func newID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}
}

type pageCreds struct {
	cred credentials.Credential
}

func (p pageCreds) ListVerifyTokens(context.Context, channel.Platform) ([]string, error) {
	return []string{p.cred.VerifyToken}, nil
}

func (p pageCreds) LookupAccountByRoutingID(_ context.Context, platform channel.Platform, routingID string) (credentials.Credential, error) {
	if platform != p.cred.Platform || routingID != p.cred.RoutingID {
		return credentials.Credential{}, credentials.ErrNotFound
	}
	return p.cred, nil
}

// identityRows backs identity.Resolver with keyed upserts.
type identityRows struct {
	mu            sync.Mutex
	contacts      map[string]sqlc.SocialContact
	conversations map[string]sqlc.Conversation
}

func (m *identityRows) UpsertSocialContact(_ context.Context, arg sqlc.UpsertSocialContactParams) (sqlc.SocialContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := arg.Platform + "/" + arg.ExternalID
	row, ok := m.contacts[key]
	if !ok {
		row = sqlc.SocialContact{ID: newID(), Platform: arg.Platform, ExternalID: arg.ExternalID, DisplayName: arg.DisplayName, CreatedAt: pgNow(), UpdatedAt: pgNow()}
		m.contacts[key] = row
	}
	return row, nil
}

func (m *identityRows) UpsertConversation(_ context.Context, arg sqlc.UpsertConversationParams) (sqlc.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := uuid.UUID(arg.AccountID.Bytes).String() + "/" + uuid.UUID(arg.ContactID.Bytes).String()
	row, ok := m.conversations[key]
	if !ok {
		row = sqlc.Conversation{ID: newID(), AccountID: arg.AccountID, ContactID: arg.ContactID, AutoReply: true, CreatedAt: pgNow(), UpdatedAt: pgNow()}
		m.conversations[key] = row
	}
	return row, nil
}

func (m *identityRows) GetSocialContact(context.Context, pgtype.UUID) (sqlc.SocialContact, error) {
	return sqlc.SocialContact{}, pgx.ErrNoRows
}

func (m *identityRows) GetConversation(context.Context, pgtype.UUID) (sqlc.Conversation, error) {
	return sqlc.Conversation{}, pgx.ErrNoRows
}

func (m *identityRows) ListConversations(context.Context, sqlc.ListConversationsParams) ([]sqlc.ListConversationsRow, error) {
	return nil, errNotUsed
}

func (m *identityRows) SetConversationAutoReply(context.Context, sqlc.SetConversationAutoReplyParams) (sqlc.Conversation, error) {
	return sqlc.Conversation{}, errNotUsed
}

// messageRows backs message.Store with a seq counter and the external id
// uniqueness constraint.
type messageRows struct {
	mu   sync.Mutex
	seq  map[pgtype.UUID]int64
	rows []sqlc.Message
}

func (q *messageRows) CreateMessage(_ context.Context, arg sqlc.CreateMessageParams) (sqlc.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.rows {
		if arg.ExternalMessageID.Valid && m.ConversationID == arg.ConversationID && m.ExternalMessageID == arg.ExternalMessageID {
			return sqlc.Message{}, pgx.ErrNoRows
		}
	}
	q.seq[arg.ConversationID]++
	row := sqlc.Message{
		ID:                newID(),
		ConversationID:    arg.ConversationID,
		Seq:               q.seq[arg.ConversationID],
		SenderRole:        arg.SenderRole,
		Body:              arg.Body,
		ExternalMessageID: arg.ExternalMessageID,
		Payload:           arg.Payload,
		CreatedAt:         pgNow(),
	}
	q.rows = append(q.rows, row)
	return row, nil
}

func (q *messageRows) GetMessageByExternalID(_ context.Context, arg sqlc.GetMessageByExternalIDParams) (sqlc.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.rows {
		if m.ConversationID == arg.ConversationID && m.ExternalMessageID == arg.ExternalMessageID {
			return m, nil
		}
	}
	return sqlc.Message{}, pgx.ErrNoRows
}

func (q *messageRows) GetMessage(context.Context, pgtype.UUID) (sqlc.Message, error) {
	return sqlc.Message{}, pgx.ErrNoRows
}

func (q *messageRows) ListMessages(context.Context, sqlc.ListMessagesParams) ([]sqlc.Message, error) {
	return nil, errNotUsed
}

func (q *messageRows) CompleteMessageDownload(context.Context, sqlc.CompleteMessageDownloadParams) (sqlc.Message, error) {
	return sqlc.Message{}, errNotUsed
}

func (q *messageRows) FailMessageDownload(context.Context, sqlc.FailMessageDownloadParams) (sqlc.Message, error) {
	return sqlc.Message{}, errNotUsed
}

func (q *messageRows) FailStaleDownloads(context.Context, pgtype.Timestamptz) ([]sqlc.Message, error) {
	return nil, errNotUsed
}

func (q *messageRows) ListPendingDownloads(context.Context, pgtype.Timestamptz) ([]sqlc.ListPendingDownloadsRow, error) {
	return nil, errNotUsed
}

func (q *messageRows) MarkMessageRead(context.Context, sqlc.MarkMessageReadParams) (int64, error) {
	return 0, errNotUsed
}

func (q *messageRows) CreateNotification(context.Context, sqlc.CreateNotificationParams) (sqlc.Notification, error) {
	return sqlc.Notification{}, errNotUsed
}

func (q *messageRows) ListNotifications(context.Context, sqlc.ListNotificationsParams) ([]sqlc.Notification, error) {
	return nil, errNotUsed
}

func (q *messageRows) MarkNotificationRead(context.Context, sqlc.MarkNotificationReadParams) (int64, error) {
	return 0, errNotUsed
}

type capturedEvent struct {
	accountID string
	env       pubsub.Envelope
}

type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (c *capturePublisher) Publish(_ context.Context, accountID string, env pubsub.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{accountID: accountID, env: env})
	return nil
}

func (c *capturePublisher) snapshot() []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedEvent(nil), c.events...)
}

type pipeline struct {
	gateway   *webhook.Gateway
	identity  *identityRows
	messages  *messageRows
	publisher *capturePublisher
	cred      credentials.Credential
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{
		identity:  &identityRows{contacts: map[string]sqlc.SocialContact{}, conversations: map[string]sqlc.Conversation{}},
		messages:  &messageRows{seq: map[pgtype.UUID]int64{}},
		publisher: &capturePublisher{},
		cred: credentials.Credential{
			ID:          uuid.NewString(),
			AccountID:   uuid.NewString(),
			Platform:    messenger.Platform,
			RoutingID:   "page-1",
			AccessToken: "token",
			VerifyToken: "verify",
			AppSecret:   "app-secret",
			Connected:   true,
		},
	}
	registry := channel.NewRegistry()
	for _, h := range messenger.Handlers(nil) {
		registry.MustRegister(messenger.Platform, h)
	}
	store := message.NewStore(nil, p.messages, p.publisher, nil, nil, nil)
	processor := inbound.NewProcessor(nil, identity.NewResolver(nil, p.identity), store, nil, nil, inbound.Options{})
	router := channel.NewRouter(nil, registry, processor)
	p.gateway = webhook.NewGateway(nil, messenger.Platform, messenger.Parse, pageCreds{cred: p.cred}, router)
	return p
}

func (p *pipeline) ingest(t *testing.T, body string) webhook.Result {
	t.Helper()
	res, err := p.gateway.Ingest(context.Background(), []byte(body), webhook.Sign([]byte(body), p.cred.AppSecret))
	require.NoError(t, err)
	return res
}

func TestPipeline_TextWebhookBecomesOneBroadcastMessage(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)

	res := p.ingest(t, textWebhook)
	assert.Equal(t, webhook.Result{Status: "ok", Accepted: 1}, res)

	p.identity.mu.Lock()
	require.Len(t, p.identity.conversations, 1)
	require.Len(t, p.identity.contacts, 1)
	var conv sqlc.Conversation
	for _, c := range p.identity.conversations {
		conv = c
	}
	p.identity.mu.Unlock()
	assert.Equal(t, p.cred.AccountID, uuid.UUID(conv.AccountID.Bytes).String())

	p.messages.mu.Lock()
	require.Len(t, p.messages.rows, 1)
	row := p.messages.rows[0]
	p.messages.mu.Unlock()
	assert.Equal(t, string(message.RoleCustomer), row.SenderRole)
	assert.Equal(t, "Where is my order?", row.Body.String)
	assert.Equal(t, "m.1", row.ExternalMessageID.String)
	assert.Equal(t, conv.ID, row.ConversationID)

	events := p.publisher.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, p.cred.AccountID, events[0].accountID)
	assert.Equal(t, pubsub.TypeNewMessage, events[0].env.Type)
	var ev message.NewMessageEvent
	require.NoError(t, json.Unmarshal(events[0].env.Payload, &ev))
	assert.Equal(t, messenger.Platform, ev.Platform)
	assert.Equal(t, message.RoleCustomer, ev.Message.Role)
	assert.Equal(t, "Where is my order?", ev.Message.Body)
	assert.Equal(t, int64(1), ev.Message.Seq)
}

func TestPipeline_RedeliveryIsAcknowledgedOnce(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)

	p.ingest(t, textWebhook)
	res := p.ingest(t, textWebhook)
	assert.Equal(t, 1, res.Accepted)

	p.messages.mu.Lock()
	assert.Len(t, p.messages.rows, 1)
	p.messages.mu.Unlock()
	assert.Len(t, p.publisher.snapshot(), 1)
}

func TestPipeline_UnknownPageIsDropped(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)
	p.cred.RoutingID = "page-2"
	p.gateway = webhook.NewGateway(nil, messenger.Platform, messenger.Parse, pageCreds{cred: p.cred}, channel.NewRouter(nil, nil, nil))

	res := p.ingest(t, textWebhook)
	assert.Equal(t, webhook.Result{Status: "ok"}, res)
	assert.Empty(t, p.publisher.snapshot())
}
