package message

import (
	"context"
	"errors"
	"time"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/credentials"
	"github.com/memohai/socialdesk/internal/media"
	"github.com/memohai/socialdesk/internal/realtime/pubsub"
)

var (
	// ErrEmptyMessage is returned when a message carries no content at all.
	ErrEmptyMessage = errors.New("message has no content")
	// ErrInvalidContent wraps field validation failures.
	ErrInvalidContent = errors.New("invalid message content")
	// ErrInvalidTransition is returned for download state changes out of a settled state.
	ErrInvalidTransition = errors.New("invalid download state transition")
	// ErrNotFound is returned when a message or notification does not exist for the account.
	ErrNotFound = errors.New("message not found")
	// ErrNotDelivered is returned with a persisted outbound message the platform did not accept.
	ErrNotDelivered = errors.New("message persisted but not delivered")
)

// Role identifies who authored a message.
type Role string

const (
	RoleCustomer       Role = "customer"
	RoleOperator       Role = "operator"
	RoleAutomatedReply Role = "automated_reply"
)

// DownloadState tracks the attachment download of a message.
type DownloadState string

const (
	DownloadPending   DownloadState = media.StatePending
	DownloadCompleted DownloadState = media.StateCompleted
	DownloadFailed    DownloadState = media.StateFailed
)

// CanTransition reports whether a download may move from one state to another.
// Only pending downloads settle, and they settle once.
func CanTransition(from, to DownloadState) bool {
	return from == DownloadPending && (to == DownloadCompleted || to == DownloadFailed)
}

// Attachment is the media part of a message.
type Attachment struct {
	MediaRef      string        `json:"media_ref,omitempty"`
	MediaType     string        `json:"media_type,omitempty"`
	URL           string        `json:"url,omitempty"`
	StorageKey    string        `json:"storage_key,omitempty"`
	LocalURL      string        `json:"local_url,omitempty"`
	DownloadState DownloadState `json:"download_state,omitempty"`
	DownloadError string        `json:"download_error,omitempty"`
}

// Message is a persisted conversation message.
type Message struct {
	ID                string            `json:"id"`
	ConversationID    string            `json:"conversation_id"`
	Seq               int64             `json:"seq"`
	Role              Role              `json:"sender_role"`
	Body              string            `json:"body,omitempty"`
	ExternalMessageID string            `json:"external_message_id,omitempty"`
	Attachment        *Attachment       `json:"attachment,omitempty"`
	Contacts          []channel.Contact `json:"contacts,omitempty"`
	TemplateName      string            `json:"template_name,omitempty"`
	IsRead            bool              `json:"is_read"`
	CreatedAt         time.Time         `json:"created_at"`

	// Duplicate is set when an append matched an already stored external id.
	Duplicate bool `json:"-"`
}

// Notification tells an account owner about an inbound message.
type Notification struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Kind           string    `json:"kind"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewMessageEvent is the payload of a new_message realtime event.
type NewMessageEvent struct {
	Platform channel.Platform `json:"platform"`
	Contact  string           `json:"contact_name,omitempty"`
	Message  Message          `json:"message"`
}

// NotificationEvent is the payload of a notification realtime event.
type NotificationEvent struct {
	Notification Notification `json:"notification"`
	Platform     string       `json:"platform"`
	ContactName  string       `json:"contact_name,omitempty"`
	Preview      string       `json:"preview,omitempty"`
}

// ListOptions pages through a conversation, newest page first.
type ListOptions struct {
	BeforeSeq int64
	Limit     int
}

// Scheduler accepts attachment download jobs.
type Scheduler interface {
	Submit(job media.Job) error
}

// Dispatcher delivers operator and automated replies to the platform.
type Dispatcher interface {
	Send(ctx context.Context, accountID string, platform channel.Platform, recipientID, text string) (channel.SendResult, error)
}

// CredentialLookup tells whether an account wants notifications.
type CredentialLookup interface {
	LookupCredential(ctx context.Context, accountID string, platform channel.Platform) (credentials.Credential, error)
}

// Locator maps storage keys to operator-facing URLs.
type Locator interface {
	AccessPath(key string) string
}

// Publisher emits realtime events.
type Publisher interface {
	Publish(ctx context.Context, accountID string, env pubsub.Envelope) error
}
