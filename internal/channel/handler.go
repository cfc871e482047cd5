package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoSender is returned by handlers whose platform has no registered sender.
var ErrNoSender = errors.New("channel: no sender registered")

// Handler processes one message kind on one platform.
type Handler interface {
	Kind() MessageKind
	ExtractFields(raw json.RawMessage) (NormalizedFields, error)
	ShouldAutoReply() bool
	SendReply(ctx context.Context, to Recipient, text string) (SendResult, error)
}

// Sender delivers plain text replies to a platform API.
type Sender interface {
	Platform() Platform
	SendText(ctx context.Context, to Recipient, text string) (SendResult, error)
}

// ExtractFunc maps a raw platform event to normalized fields.
type ExtractFunc func(raw json.RawMessage) (NormalizedFields, error)

// HandlerSpec is a Handler assembled from plain values. Adapters describe each
// kind they support with one HandlerSpec entry.
type HandlerSpec struct {
	MessageKind MessageKind
	Extract     ExtractFunc
	AutoReply   bool
	Sender      Sender
}

// Kind returns the message kind handled.
func (h HandlerSpec) Kind() MessageKind {
	return h.MessageKind
}

// ExtractFields runs the extract func and stamps the handler's kind.
func (h HandlerSpec) ExtractFields(raw json.RawMessage) (NormalizedFields, error) {
	if h.Extract == nil {
		return NormalizedFields{}, fmt.Errorf("no extractor for %s", h.MessageKind)
	}
	fields, err := h.Extract(raw)
	if err != nil {
		return NormalizedFields{}, err
	}
	if fields.Kind == "" {
		fields.Kind = h.MessageKind
	}
	return fields, nil
}

// ShouldAutoReply reports whether an automated reply may follow this kind.
func (h HandlerSpec) ShouldAutoReply() bool {
	return h.AutoReply
}

// SendReply delegates to the platform sender.
func (h HandlerSpec) SendReply(ctx context.Context, to Recipient, text string) (SendResult, error) {
	if h.Sender == nil {
		return SendResult{}, ErrNoSender
	}
	return h.Sender.SendText(ctx, to, text)
}

// unsupportedHandler extracts only the envelope identifiers so the event can be
// logged, and never replies.
type unsupportedHandler struct{}

func (unsupportedHandler) Kind() MessageKind { return KindUnsupported }

func (unsupportedHandler) ExtractFields(raw json.RawMessage) (NormalizedFields, error) {
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &probe)
	return NormalizedFields{ExternalMessageID: probe.ID, Kind: KindUnsupported}, nil
}

func (unsupportedHandler) ShouldAutoReply() bool { return false }

func (unsupportedHandler) SendReply(context.Context, Recipient, string) (SendResult, error) {
	return SendResult{}, ErrNoSender
}
