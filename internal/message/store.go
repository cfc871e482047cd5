package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/socialdesk/internal/channel"
	dbpkg "github.com/memohai/socialdesk/internal/db"
	"github.com/memohai/socialdesk/internal/db/sqlc"
	"github.com/memohai/socialdesk/internal/identity"
	"github.com/memohai/socialdesk/internal/media"
	"github.com/memohai/socialdesk/internal/realtime/pubsub"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	previewRunes     = 120
	orderStripes     = 64
)

// Queries is the subset of sqlc queries used by Store.
type Queries interface {
	CreateMessage(ctx context.Context, arg sqlc.CreateMessageParams) (sqlc.Message, error)
	GetMessage(ctx context.Context, id pgtype.UUID) (sqlc.Message, error)
	GetMessageByExternalID(ctx context.Context, arg sqlc.GetMessageByExternalIDParams) (sqlc.Message, error)
	ListMessages(ctx context.Context, arg sqlc.ListMessagesParams) ([]sqlc.Message, error)
	CompleteMessageDownload(ctx context.Context, arg sqlc.CompleteMessageDownloadParams) (sqlc.Message, error)
	FailMessageDownload(ctx context.Context, arg sqlc.FailMessageDownloadParams) (sqlc.Message, error)
	FailStaleDownloads(ctx context.Context, createdAt pgtype.Timestamptz) ([]sqlc.Message, error)
	ListPendingDownloads(ctx context.Context, createdAt pgtype.Timestamptz) ([]sqlc.ListPendingDownloadsRow, error)
	MarkMessageRead(ctx context.Context, arg sqlc.MarkMessageReadParams) (int64, error)
	CreateNotification(ctx context.Context, arg sqlc.CreateNotificationParams) (sqlc.Notification, error)
	ListNotifications(ctx context.Context, arg sqlc.ListNotificationsParams) ([]sqlc.Notification, error)
	MarkNotificationRead(ctx context.Context, arg sqlc.MarkNotificationReadParams) (int64, error)
}

// Store persists conversation messages and announces them to the account's
// realtime group.
type Store struct {
	queries    Queries
	publisher  Publisher
	creds      CredentialLookup
	dispatcher Dispatcher
	locator    Locator
	scheduler  Scheduler
	order      appendOrder
	logger     *slog.Logger
}

// appendOrder holds a conversation's lock from insert until its new_message
// is published, so the realtime group sees messages in seq order.
type appendOrder [orderStripes]sync.Mutex

func (o *appendOrder) lock(conversationID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	mu := &o[h.Sum32()%orderStripes]
	mu.Lock()
	return mu.Unlock
}

// NewStore creates a message store. Any collaborator may be nil; the related
// side effect is then skipped.
func NewStore(log *slog.Logger, queries Queries, publisher Publisher, creds CredentialLookup, dispatcher Dispatcher, locator Locator) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		queries:    queries,
		publisher:  publisher,
		creds:      creds,
		dispatcher: dispatcher,
		locator:    locator,
		logger:     log.With(slog.String("service", "message")),
	}
}

// SetScheduler installs the attachment download queue.
func (s *Store) SetScheduler(scheduler Scheduler) {
	s.scheduler = scheduler
}

type payloadDoc struct {
	Contacts []channel.Contact `json:"contacts,omitempty"`
	Template string            `json:"template,omitempty"`
}

// AppendInbound stores a customer message. A repeated external message id in
// the same conversation returns the stored message with Duplicate set and has
// no side effects.
func (s *Store) AppendInbound(ctx context.Context, conv identity.Conversation, fields channel.NormalizedFields) (Message, error) {
	pgConvID, err := dbpkg.ParseUUID(conv.ID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	params := sqlc.CreateMessageParams{
		ConversationID:    pgConvID,
		SenderRole:        string(RoleCustomer),
		Body:              dbpkg.Text(inboundBody(fields)),
		ExternalMessageID: dbpkg.Text(fields.ExternalMessageID),
	}

	hasAttachment := false
	if fields.Attachment != nil {
		att, err := resolveAttachment(fields.Kind, fields.Attachment)
		if err != nil {
			return Message{}, err
		}
		hasAttachment = true
		params.MediaRef = dbpkg.Text(att.MediaRef)
		params.MediaType = dbpkg.Text(att.MediaType)
		params.MediaUrl = dbpkg.Text(att.URL)
		params.DownloadState = dbpkg.Text(string(DownloadPending))
	}

	doc := payloadDoc{Template: strings.TrimSpace(fields.TemplateName)}
	if len(fields.Contacts) > 0 {
		if err := validateContacts(fields.Contacts); err != nil {
			return Message{}, err
		}
		doc.Contacts = fields.Contacts
	}
	if len(doc.Contacts) > 0 || doc.Template != "" {
		raw, err := json.Marshal(doc)
		if err != nil {
			return Message{}, fmt.Errorf("marshal payload: %w", err)
		}
		params.Payload = raw
	}
	if !params.Body.Valid && !hasAttachment && params.Payload == nil {
		return Message{}, ErrEmptyMessage
	}

	unlock := s.order.lock(conv.ID)
	row, err := s.queries.CreateMessage(ctx, params)
	if err != nil {
		unlock()
		if errors.Is(err, pgx.ErrNoRows) && params.ExternalMessageID.Valid {
			existing, getErr := s.queries.GetMessageByExternalID(ctx, sqlc.GetMessageByExternalIDParams{
				ConversationID:    pgConvID,
				ExternalMessageID: params.ExternalMessageID,
			})
			if getErr != nil {
				return Message{}, fmt.Errorf("load duplicate message: %w", getErr)
			}
			msg := s.toMessage(existing)
			msg.Duplicate = true
			s.logger.Info("duplicate inbound message ignored",
				slog.String("conversation_id", conv.ID),
				slog.String("external_message_id", fields.ExternalMessageID))
			return msg, nil
		}
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	msg := s.toMessage(row)

	if hasAttachment {
		s.scheduleDownload(conv, msg)
	}
	s.publishNewMessage(ctx, conv, msg, "")
	unlock()
	s.notify(ctx, conv, msg)
	return msg, nil
}

// AppendOutbound stores an operator or automated reply, announces it and
// hands it to the dispatcher. When delivery fails the persisted message is
// returned together with an error wrapping ErrNotDelivered.
func (s *Store) AppendOutbound(ctx context.Context, conv identity.Conversation, role Role, text, originConnID string) (Message, error) {
	if role != RoleOperator && role != RoleAutomatedReply {
		return Message{}, fmt.Errorf("%w: role %q cannot send", ErrInvalidContent, role)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	if role == RoleOperator {
		if err := ValidateText(text); err != nil {
			return Message{}, err
		}
	}
	pgConvID, err := dbpkg.ParseUUID(conv.ID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	unlock := s.order.lock(conv.ID)
	row, err := s.queries.CreateMessage(ctx, sqlc.CreateMessageParams{
		ConversationID: pgConvID,
		SenderRole:     string(role),
		Body:           dbpkg.Text(text),
	})
	if err != nil {
		unlock()
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	msg := s.toMessage(row)
	s.publishNewMessage(ctx, conv, msg, originConnID)
	unlock()

	if s.dispatcher == nil {
		return msg, nil
	}
	if _, err := s.dispatcher.Send(ctx, conv.AccountID, conv.Contact.Platform, conv.Contact.ExternalID, text); err != nil {
		s.logger.Warn("outbound dispatch failed",
			slog.String("message_id", msg.ID),
			slog.String("platform", conv.Contact.Platform.String()),
			slog.Any("error", err))
		return msg, fmt.Errorf("%w: %w", ErrNotDelivered, err)
	}
	return msg, nil
}

// UpdateDownloadState settles a pending download. Any other transition fails
// with ErrInvalidTransition.
func (s *Store) UpdateDownloadState(ctx context.Context, messageID string, to DownloadState, storageKey, mediaType, reason string) (Message, error) {
	pgID, err := dbpkg.ParseUUID(messageID)
	if err != nil {
		return Message{}, ErrNotFound
	}
	if !CanTransition(DownloadPending, to) {
		return Message{}, fmt.Errorf("%w: to %q", ErrInvalidTransition, to)
	}
	var row sqlc.Message
	switch to {
	case DownloadCompleted:
		row, err = s.queries.CompleteMessageDownload(ctx, sqlc.CompleteMessageDownloadParams{
			ID:         pgID,
			StorageKey: dbpkg.Text(storageKey),
			MediaType:  dbpkg.Text(mediaType),
		})
	default:
		row, err = s.queries.FailMessageDownload(ctx, sqlc.FailMessageDownloadParams{
			ID:            pgID,
			DownloadError: dbpkg.Text(reason),
		})
	}
	if err == nil {
		return s.toMessage(row), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("update download state: %w", err)
	}
	current, getErr := s.queries.GetMessage(ctx, pgID)
	if getErr != nil {
		if errors.Is(getErr, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, getErr
	}
	return Message{}, fmt.Errorf("%w: %q to %q", ErrInvalidTransition, dbpkg.TextValue(current.DownloadState), to)
}

// DownloadRecord implements media.Store.
func (s *Store) DownloadRecord(ctx context.Context, messageID string) (media.DownloadRecord, error) {
	pgID, err := dbpkg.ParseUUID(messageID)
	if err != nil {
		return media.DownloadRecord{}, ErrNotFound
	}
	row, err := s.queries.GetMessage(ctx, pgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return media.DownloadRecord{}, ErrNotFound
		}
		return media.DownloadRecord{}, err
	}
	return media.DownloadRecord{
		State:     dbpkg.TextValue(row.DownloadState),
		CreatedAt: dbpkg.TimeValue(row.CreatedAt),
	}, nil
}

// CompleteDownload implements media.Store.
func (s *Store) CompleteDownload(ctx context.Context, messageID, storageKey, mediaType string) error {
	_, err := s.UpdateDownloadState(ctx, messageID, DownloadCompleted, storageKey, mediaType, "")
	return err
}

// FailDownload implements media.Store.
func (s *Store) FailDownload(ctx context.Context, messageID, reason string) error {
	_, err := s.UpdateDownloadState(ctx, messageID, DownloadFailed, "", "", reason)
	return err
}

// FailStaleDownloads implements media.SweepStore.
func (s *Store) FailStaleDownloads(ctx context.Context, before time.Time) (int, error) {
	rows, err := s.queries.FailStaleDownloads(ctx, dbpkg.Timestamp(before))
	if err != nil {
		return 0, fmt.Errorf("fail stale downloads: %w", err)
	}
	return len(rows), nil
}

// PendingDownloads implements media.SweepStore.
func (s *Store) PendingDownloads(ctx context.Context, since time.Time) ([]media.Job, error) {
	rows, err := s.queries.ListPendingDownloads(ctx, dbpkg.Timestamp(since))
	if err != nil {
		return nil, fmt.Errorf("list pending downloads: %w", err)
	}
	jobs := make([]media.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, media.Job{
			MessageID:      dbpkg.UUIDString(row.ID),
			ConversationID: dbpkg.UUIDString(row.ConversationID),
			AccountID:      dbpkg.UUIDString(row.AccountID),
			Platform:       channel.Platform(row.Platform),
			MediaRef:       dbpkg.TextValue(row.MediaRef),
			URL:            dbpkg.TextValue(row.MediaUrl),
			MediaType:      dbpkg.TextValue(row.MediaType),
			CreatedAt:      dbpkg.TimeValue(row.CreatedAt),
		})
	}
	return jobs, nil
}

// List returns a page of a conversation ordered by seq ascending. The page is
// the newest one older than opts.BeforeSeq.
func (s *Store) List(ctx context.Context, conversationID string, opts ListOptions) ([]Message, error) {
	pgConvID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return nil, ErrNotFound
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	params := sqlc.ListMessagesParams{
		ConversationID: pgConvID,
		MaxCount:       int32(limit),
	}
	if opts.BeforeSeq > 0 {
		params.BeforeSeq = pgtype.Int8{Int64: opts.BeforeSeq, Valid: true}
	}
	rows, err := s.queries.ListMessages(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs := make([]Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, s.toMessage(row))
	}
	return msgs, nil
}

// MarkRead marks a message of one of accountID's conversations as read.
func (s *Store) MarkRead(ctx context.Context, accountID, messageID string) error {
	pgAccountID, pgID, err := parsePair(accountID, messageID)
	if err != nil {
		return ErrNotFound
	}
	n, err := s.queries.MarkMessageRead(ctx, sqlc.MarkMessageReadParams{ID: pgID, AccountID: pgAccountID})
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListNotifications returns an account's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, accountID string, unreadOnly bool, limit int) ([]Notification, error) {
	pgAccountID, err := dbpkg.ParseUUID(accountID)
	if err != nil {
		return nil, fmt.Errorf("invalid account id: %w", err)
	}
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	rows, err := s.queries.ListNotifications(ctx, sqlc.ListNotificationsParams{
		AccountID:  pgAccountID,
		UnreadOnly: unreadOnly,
		MaxCount:   int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	items := make([]Notification, 0, len(rows))
	for _, row := range rows {
		items = append(items, toNotification(row))
	}
	return items, nil
}

// MarkNotificationRead marks one of accountID's notifications as read.
func (s *Store) MarkNotificationRead(ctx context.Context, accountID, notificationID string) error {
	pgAccountID, pgID, err := parsePair(accountID, notificationID)
	if err != nil {
		return ErrNotFound
	}
	n, err := s.queries.MarkNotificationRead(ctx, sqlc.MarkNotificationReadParams{ID: pgID, AccountID: pgAccountID})
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scheduleDownload(conv identity.Conversation, msg Message) {
	if s.scheduler == nil || msg.Attachment == nil {
		return
	}
	job := media.Job{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		AccountID:      conv.AccountID,
		Platform:       conv.Contact.Platform,
		MediaRef:       msg.Attachment.MediaRef,
		URL:            msg.Attachment.URL,
		MediaType:      msg.Attachment.MediaType,
		CreatedAt:      msg.CreatedAt,
	}
	if err := s.scheduler.Submit(job); err != nil {
		s.logger.Warn("schedule media download failed", slog.String("message_id", msg.ID), slog.Any("error", err))
	}
}

func (s *Store) publishNewMessage(ctx context.Context, conv identity.Conversation, msg Message, origin string) {
	s.publish(ctx, conv.AccountID, pubsub.TypeNewMessage, origin, NewMessageEvent{
		Platform: conv.Contact.Platform,
		Contact:  conv.Contact.DisplayName,
		Message:  msg,
	})
}

// notify records a notification for the account owner when the platform
// integration asks for them.
func (s *Store) notify(ctx context.Context, conv identity.Conversation, msg Message) {
	if s.creds == nil {
		return
	}
	cred, err := s.creds.LookupCredential(ctx, conv.AccountID, conv.Contact.Platform)
	if err != nil {
		s.logger.Warn("notification settings unavailable", slog.String("account_id", conv.AccountID), slog.Any("error", err))
		return
	}
	if !cred.NotifyEnabled {
		return
	}
	pgAccountID, pgConvID, err := parsePair(conv.AccountID, conv.ID)
	if err != nil {
		return
	}
	pgMsgID, err := dbpkg.ParseUUID(msg.ID)
	if err != nil {
		return
	}
	row, err := s.queries.CreateNotification(ctx, sqlc.CreateNotificationParams{
		AccountID:      pgAccountID,
		ConversationID: pgConvID,
		MessageID:      pgMsgID,
		Kind:           "message",
	})
	if err != nil {
		s.logger.Warn("create notification failed", slog.String("message_id", msg.ID), slog.Any("error", err))
		return
	}
	s.publish(ctx, conv.AccountID, pubsub.TypeNotification, "", NotificationEvent{
		Notification: toNotification(row),
		Platform:     conv.Contact.Platform.String(),
		ContactName:  conv.Contact.DisplayName,
		Preview:      preview(msg),
	})
}

func (s *Store) publish(ctx context.Context, accountID string, eventType pubsub.EventType, origin string, payload any) {
	if s.publisher == nil {
		return
	}
	env, err := pubsub.NewEnvelope(eventType, accountID, origin, payload)
	if err != nil {
		s.logger.Warn("build realtime event failed", slog.Any("error", err))
		return
	}
	if err := s.publisher.Publish(ctx, accountID, env); err != nil {
		s.logger.Warn("publish realtime event failed", slog.String("type", string(eventType)), slog.Any("error", err))
	}
}

func (s *Store) toMessage(row sqlc.Message) Message {
	msg := Message{
		ID:                dbpkg.UUIDString(row.ID),
		ConversationID:    dbpkg.UUIDString(row.ConversationID),
		Seq:               row.Seq,
		Role:              Role(row.SenderRole),
		Body:              dbpkg.TextValue(row.Body),
		ExternalMessageID: dbpkg.TextValue(row.ExternalMessageID),
		IsRead:            row.IsRead,
		CreatedAt:         dbpkg.TimeValue(row.CreatedAt),
	}
	if row.MediaRef.Valid || row.MediaUrl.Valid || row.StorageKey.Valid {
		att := &Attachment{
			MediaRef:      dbpkg.TextValue(row.MediaRef),
			MediaType:     dbpkg.TextValue(row.MediaType),
			URL:           dbpkg.TextValue(row.MediaUrl),
			StorageKey:    dbpkg.TextValue(row.StorageKey),
			DownloadState: DownloadState(dbpkg.TextValue(row.DownloadState)),
			DownloadError: dbpkg.TextValue(row.DownloadError),
		}
		if att.StorageKey != "" && s.locator != nil {
			att.LocalURL = s.locator.AccessPath(att.StorageKey)
		}
		msg.Attachment = att
	}
	if len(row.Payload) > 0 {
		var doc payloadDoc
		if err := json.Unmarshal(row.Payload, &doc); err != nil {
			s.logger.Warn("decode message payload failed", slog.String("message_id", msg.ID), slog.Any("error", err))
		} else {
			msg.Contacts = doc.Contacts
			msg.TemplateName = doc.Template
		}
	}
	return msg
}

func toNotification(row sqlc.Notification) Notification {
	return Notification{
		ID:             dbpkg.UUIDString(row.ID),
		AccountID:      dbpkg.UUIDString(row.AccountID),
		ConversationID: dbpkg.UUIDString(row.ConversationID),
		MessageID:      dbpkg.UUIDString(row.MessageID),
		Kind:           row.Kind,
		IsRead:         row.IsRead,
		CreatedAt:      dbpkg.TimeValue(row.CreatedAt),
	}
}

// inboundBody renders the stored body for kinds whose content lives elsewhere.
func inboundBody(fields channel.NormalizedFields) string {
	body := strings.TrimSpace(fields.Body)
	switch fields.Kind {
	case channel.KindPostback:
		if body != "" {
			return "[POSTBACK] " + body
		}
	case channel.KindContacts:
		if body == "" && len(fields.Contacts) > 0 {
			return fmt.Sprintf("%d contact(s) received", len(fields.Contacts))
		}
	}
	return body
}

func preview(msg Message) string {
	text := msg.Body
	if text == "" && msg.Attachment != nil {
		text = "[" + msg.Attachment.MediaType + "]"
	}
	if text == "" && msg.TemplateName != "" {
		text = "[template] " + msg.TemplateName
	}
	runes := []rune(text)
	if len(runes) > previewRunes {
		return string(runes[:previewRunes]) + "..."
	}
	return text
}

func parsePair(first, second string) (pgtype.UUID, pgtype.UUID, error) {
	a, err := dbpkg.ParseUUID(first)
	if err != nil {
		return pgtype.UUID{}, pgtype.UUID{}, err
	}
	b, err := dbpkg.ParseUUID(second)
	if err != nil {
		return pgtype.UUID{}, pgtype.UUID{}, err
	}
	return a, b, nil
}
