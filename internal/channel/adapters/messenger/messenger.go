// Package messenger adapts Facebook Messenger page webhooks and the Send API.
package messenger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/channel/webhook"
)

// Platform is the platform handled by this adapter.
const Platform = channel.PlatformMessenger

const objectPage = "page"

type envelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string            `json:"id"`
		Time      int64             `json:"time"`
		Messaging []json.RawMessage `json:"messaging"`
	} `json:"entry"`
}

type party struct {
	ID string `json:"id"`
}

type attachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url,omitempty"`
	} `json:"payload"`
}

type messagePart struct {
	Mid         string       `json:"mid"`
	Text        string       `json:"text,omitempty"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type postbackPart struct {
	Mid     string `json:"mid,omitempty"`
	Title   string `json:"title,omitempty"`
	Payload string `json:"payload"`
}

type messagingEvent struct {
	Sender    party         `json:"sender"`
	Recipient party         `json:"recipient"`
	Timestamp int64         `json:"timestamp"`
	Message   *messagePart  `json:"message,omitempty"`
	Postback  *postbackPart `json:"postback,omitempty"`
}

// Parse splits a page webhook into one entry per page. Echoes of the page's
// own messages and events without a message or postback are skipped. A
// message with several attachments yields one event per attachment.
func Parse(body []byte) ([]webhook.Entry, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", webhook.ErrMalformed, err)
	}
	if env.Object != objectPage {
		return nil, fmt.Errorf("%w: unexpected object %q", webhook.ErrMalformed, env.Object)
	}
	entries := make([]webhook.Entry, 0, len(env.Entry))
	for _, item := range env.Entry {
		entry := webhook.Entry{RoutingID: item.ID}
		for _, raw := range item.Messaging {
			entry.Events = append(entry.Events, splitEvent(raw)...)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func splitEvent(raw json.RawMessage) []webhook.Event {
	var ev messagingEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return []webhook.Event{{Kind: channel.KindUnsupported, Raw: raw}}
	}
	switch {
	case ev.Postback != nil:
		return []webhook.Event{{Kind: channel.KindPostback, Raw: raw}}
	case ev.Message == nil, ev.Message.IsEcho:
		return nil
	case len(ev.Message.Attachments) == 0:
		if strings.TrimSpace(ev.Message.Text) == "" {
			return []webhook.Event{{Kind: channel.KindUnsupported, Raw: raw}}
		}
		return []webhook.Event{{Kind: channel.KindText, Raw: raw}}
	}
	if len(ev.Message.Attachments) == 1 {
		return []webhook.Event{{Kind: attachmentKind(ev.Message.Attachments[0].Type), Raw: raw}}
	}
	events := make([]webhook.Event, 0, len(ev.Message.Attachments))
	for i, att := range ev.Message.Attachments {
		single := ev
		msg := *ev.Message
		msg.Attachments = []attachment{att}
		if i > 0 {
			msg.Mid = ev.Message.Mid + "#" + strconv.Itoa(i)
			msg.Text = ""
		}
		single.Message = &msg
		b, err := json.Marshal(single)
		if err != nil {
			continue
		}
		events = append(events, webhook.Event{Kind: attachmentKind(att.Type), Raw: b})
	}
	return events
}

func attachmentKind(t string) channel.MessageKind {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "image":
		return channel.KindImage
	case "video":
		return channel.KindVideo
	case "audio":
		return channel.KindAudio
	case "file":
		return channel.KindDocument
	default:
		return channel.KindUnsupported
	}
}

func decode(raw json.RawMessage) (messagingEvent, error) {
	var ev messagingEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("decode messaging event: %w", err)
	}
	if strings.TrimSpace(ev.Sender.ID) == "" {
		return ev, fmt.Errorf("messaging event without sender")
	}
	return ev, nil
}

func baseFields(ev messagingEvent) channel.NormalizedFields {
	fields := channel.NormalizedFields{SenderID: ev.Sender.ID}
	if ev.Timestamp > 0 {
		fields.Timestamp = time.UnixMilli(ev.Timestamp).UTC()
	}
	return fields
}

func extractText(raw json.RawMessage) (channel.NormalizedFields, error) {
	ev, err := decode(raw)
	if err != nil {
		return channel.NormalizedFields{}, err
	}
	if ev.Message == nil {
		return channel.NormalizedFields{}, fmt.Errorf("text event without message")
	}
	fields := baseFields(ev)
	fields.ExternalMessageID = ev.Message.Mid
	fields.Body = ev.Message.Text
	return fields, nil
}

func extractAttachment(raw json.RawMessage) (channel.NormalizedFields, error) {
	ev, err := decode(raw)
	if err != nil {
		return channel.NormalizedFields{}, err
	}
	if ev.Message == nil || len(ev.Message.Attachments) == 0 {
		return channel.NormalizedFields{}, fmt.Errorf("attachment event without attachment")
	}
	att := ev.Message.Attachments[0]
	fields := baseFields(ev)
	fields.ExternalMessageID = ev.Message.Mid
	fields.Body = ev.Message.Text
	fields.Attachment = &channel.Attachment{
		MediaType: attachmentKind(att.Type).String(),
		URL:       att.Payload.URL,
	}
	return fields, nil
}

func extractPostback(raw json.RawMessage) (channel.NormalizedFields, error) {
	ev, err := decode(raw)
	if err != nil {
		return channel.NormalizedFields{}, err
	}
	if ev.Postback == nil {
		return channel.NormalizedFields{}, fmt.Errorf("postback event without postback")
	}
	fields := baseFields(ev)
	fields.ExternalMessageID = ev.Postback.Mid
	fields.Body = ev.Postback.Payload
	return fields, nil
}

// Handlers returns the handler table of the platform.
func Handlers(sender channel.Sender) []channel.HandlerSpec {
	return []channel.HandlerSpec{
		{MessageKind: channel.KindText, Extract: extractText, AutoReply: true, Sender: sender},
		{MessageKind: channel.KindImage, Extract: extractAttachment, Sender: sender},
		{MessageKind: channel.KindVideo, Extract: extractAttachment, Sender: sender},
		{MessageKind: channel.KindAudio, Extract: extractAttachment, Sender: sender},
		{MessageKind: channel.KindDocument, Extract: extractAttachment, Sender: sender},
		{MessageKind: channel.KindPostback, Extract: extractPostback, AutoReply: true, Sender: sender},
	}
}

// Install registers the sender and handlers of the platform.
func Install(registry *channel.Registry, sender channel.Sender) error {
	if err := registry.RegisterSender(sender); err != nil {
		return err
	}
	for _, h := range Handlers(sender) {
		if err := registry.Register(Platform, h); err != nil {
			return err
		}
	}
	return nil
}
