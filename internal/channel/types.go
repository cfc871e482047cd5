// Package channel defines the platform-neutral message model and the
// handler registry that routes raw platform events to type-specific handlers.
package channel

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// Platform identifies a third-party chat platform (e.g., "messenger", "whatsapp").
type Platform string

const (
	PlatformMessenger Platform = "messenger"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
)

// String returns the platform as a plain string.
func (p Platform) String() string {
	return string(p)
}

// ParsePlatform normalizes raw and checks it against the known platforms.
func ParsePlatform(raw string) (Platform, error) {
	p := normalizePlatform(raw)
	switch p {
	case PlatformMessenger, PlatformWhatsApp, PlatformInstagram, PlatformTwitter:
		return p, nil
	}
	return "", fmt.Errorf("unsupported platform: %s", raw)
}

func normalizePlatform(raw string) Platform {
	return Platform(strings.ToLower(strings.TrimSpace(raw)))
}

// MessageKind is the routing key of an inbound message within a platform.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindImage       MessageKind = "image"
	KindAudio       MessageKind = "audio"
	KindVideo       MessageKind = "video"
	KindDocument    MessageKind = "document"
	KindContacts    MessageKind = "contacts"
	KindTemplate    MessageKind = "template"
	KindPostback    MessageKind = "postback"
	KindUnsupported MessageKind = "unsupported"
)

// String returns the kind as a plain string.
func (k MessageKind) String() string {
	return string(k)
}

// IsMedia reports whether messages of this kind carry a downloadable attachment.
func (k MessageKind) IsMedia() bool {
	switch k {
	case KindImage, KindAudio, KindVideo, KindDocument:
		return true
	}
	return false
}

// Attachment describes remote media referenced by an inbound message.
type Attachment struct {
	MediaRef  string `json:"media_ref,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Contact is a shared contact card.
type Contact struct {
	Name   string   `json:"name"`
	Phones []string `json:"phones"`
}

// NormalizedFields is the platform-neutral projection of one inbound message.
type NormalizedFields struct {
	ExternalMessageID string
	SenderID          string
	SenderName        string
	Kind              MessageKind
	Body              string
	Attachment        *Attachment
	Contacts          []Contact
	TemplateName      string
	Timestamp         time.Time
}

// InboundEvent is a single routed platform event awaiting field extraction.
type InboundEvent struct {
	AccountID        string
	Platform         Platform
	Kind             MessageKind
	AutoReplyEnabled bool
	ReceivedAt       time.Time
	Raw              json.RawMessage
}

// Recipient addresses an outbound reply on a platform.
type Recipient struct {
	ExternalID  string
	RoutingID   string
	AccessToken string
}

// SendResult reports the platform's acknowledgement of an outbound message.
type SendResult struct {
	Platform          Platform `json:"platform"`
	ExternalMessageID string   `json:"external_message_id,omitempty"`
	RecipientID       string   `json:"recipient_id,omitempty"`
}

// MediaTypeFromURL guesses the media type from the URL path extension.
func MediaTypeFromURL(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return string(KindImage)
	case ".mp4", ".mov", ".avi", ".webm":
		return string(KindVideo)
	case ".mp3", ".wav", ".ogg":
		return string(KindAudio)
	default:
		return string(KindDocument)
	}
}
