package media

import (
	"context"
	"io"
	"time"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/credentials"
	"github.com/memohai/socialdesk/internal/realtime/pubsub"
)

// Job asks the fetcher to download the attachment of one message.
type Job struct {
	MessageID      string
	ConversationID string
	AccountID      string
	Platform       channel.Platform
	MediaRef       string
	URL            string
	MediaType      string
	CreatedAt      time.Time
}

// DownloadRecord is the current download state of a message.
type DownloadRecord struct {
	State     string
	CreatedAt time.Time
}

// Store records download outcomes on messages. Transitions are only allowed
// out of the pending state.
type Store interface {
	DownloadRecord(ctx context.Context, messageID string) (DownloadRecord, error)
	CompleteDownload(ctx context.Context, messageID, storageKey, mediaType string) error
	FailDownload(ctx context.Context, messageID, reason string) error
}

// SweepStore finds abandoned downloads.
type SweepStore interface {
	FailStaleDownloads(ctx context.Context, before time.Time) (int, error)
	PendingDownloads(ctx context.Context, since time.Time) ([]Job, error)
}

// URLResolver turns a platform media reference into a downloadable URL.
type URLResolver interface {
	ResolveMediaURL(ctx context.Context, mediaRef, accessToken string) (string, error)
}

// CredentialLookup supplies platform tokens for authenticated downloads.
type CredentialLookup interface {
	LookupCredential(ctx context.Context, accountID string, platform channel.Platform) (credentials.Credential, error)
}

// Publisher emits realtime events.
type Publisher interface {
	Publish(ctx context.Context, accountID string, env pubsub.Envelope) error
}

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// AccessPath returns a consumer-accessible reference for a storage key.
	AccessPath(key string) string
}

// Mover is implemented by providers that can adopt a spooled file without copying.
type Mover interface {
	Move(ctx context.Context, key, srcPath string) error
}

// ReadyEvent is the payload of a media_ready realtime event.
type ReadyEvent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	MediaURL       string `json:"media_url"`
	MediaType      string `json:"media_type"`
}
