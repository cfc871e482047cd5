// Package whatsapp adapts WhatsApp Cloud API webhooks, messages and media.
package whatsapp

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
const Platform = channel.PlatformWhatsApp

const (
	objectBusinessAccount = "whatsapp_business_account"
	fieldMessages         = "messages"
)

type envelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string      `json:"field"`
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []json.RawMessage `json:"messages"`
}

type mediaPart struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type contactCard struct {
	Name struct {
		FormattedName string `json:"formatted_name"`
		FirstName     string `json:"first_name"`
		LastName      string `json:"last_name"`
	} `json:"name"`
	Phones []struct {
		Phone string `json:"phone"`
		WaID  string `json:"wa_id"`
	} `json:"phones"`
}

type message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image    *mediaPart    `json:"image,omitempty"`
	Audio    *mediaPart    `json:"audio,omitempty"`
	Video    *mediaPart    `json:"video,omitempty"`
	Document *mediaPart    `json:"document,omitempty"`
	Contacts []contactCard `json:"contacts,omitempty"`
	Template *struct {
		Name string `json:"name"`
	} `json:"template,omitempty"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *reply `json:"button_reply,omitempty"`
		ListReply   *reply `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

type reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// event is the raw payload handed to extractors: one message plus the
// profile name the webhook reported for its sender.
type event struct {
	ProfileName string          `json:"profile_name,omitempty"`
	Message     json.RawMessage `json:"message"`
}

// Parse splits a business account webhook into one entry per messages
// change, routed by the receiving phone number id. Status updates and other
// change fields are ignored.
func Parse(body []byte) ([]webhook.Entry, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", webhook.ErrMalformed, err)
	}
	if env.Object != objectBusinessAccount {
		return nil, fmt.Errorf("%w: unexpected object %q", webhook.ErrMalformed, env.Object)
	}
	var entries []webhook.Entry
	for _, item := range env.Entry {
		for _, change := range item.Changes {
			if change.Field != fieldMessages || len(change.Value.Messages) == 0 {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			entry := webhook.Entry{RoutingID: change.Value.Metadata.PhoneNumberID}
			for _, raw := range change.Value.Messages {
				entry.Events = append(entry.Events, toEvent(raw, names))
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func toEvent(raw json.RawMessage, names map[string]string) webhook.Event {
	var probe struct {
		From string `json:"from"`
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &probe)
	payload, err := json.Marshal(event{ProfileName: names[probe.From], Message: raw})
	if err != nil {
		return webhook.Event{Kind: channel.KindUnsupported, Raw: raw}
	}
	return webhook.Event{Kind: kindOf(probe.Type), Raw: payload}
}

func kindOf(t string) channel.MessageKind {
	switch t {
	case "text":
		return channel.KindText
	case "image":
		return channel.KindImage
	case "audio":
		return channel.KindAudio
	case "video":
		return channel.KindVideo
	case "document":
		return channel.KindDocument
	case "contacts":
		return channel.KindContacts
	case "template":
		return channel.KindTemplate
	case "button", "interactive":
		return channel.KindPostback
	default:
		return channel.KindUnsupported
	}
}

func decode(raw json.RawMessage) (message, channel.NormalizedFields, error) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return message{}, channel.NormalizedFields{}, fmt.Errorf("decode whatsapp event: %w", err)
	}
	var msg message
	if err := json.Unmarshal(ev.Message, &msg); err != nil {
		return message{}, channel.NormalizedFields{}, fmt.Errorf("decode whatsapp message: %w", err)
	}
	if strings.TrimSpace(msg.From) == "" {
		return message{}, channel.NormalizedFields{}, fmt.Errorf("whatsapp message without sender")
	}
	fields := channel.NormalizedFields{
		ExternalMessageID: msg.ID,
		SenderID:          msg.From,
		SenderName:        ev.ProfileName,
	}
	if sec, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil && sec > 0 {
		fields.Timestamp = time.Unix(sec, 0).UTC()
	}
	return msg, fields, nil
}

func extractText(raw json.RawMessage) (channel.NormalizedFields, error) {
	msg, fields, err := decode(raw)
	if err != nil {
		return fields, err
	}
	if msg.Text == nil {
		return fields, fmt.Errorf("text message without body")
	}
	fields.Body = msg.Text.Body
	return fields, nil
}

func extractMedia(raw json.RawMessage) (channel.NormalizedFields, error) {
	msg, fields, err := decode(raw)
	if err != nil {
		return fields, err
	}
	var part *mediaPart
	switch msg.Type {
	case "image":
		part = msg.Image
	case "audio":
		part = msg.Audio
	case "video":
		part = msg.Video
	case "document":
		part = msg.Document
	}
	if part == nil || part.ID == "" {
		return fields, fmt.Errorf("%s message without media id", msg.Type)
	}
	fields.Body = part.Caption
	fields.Attachment = &channel.Attachment{MediaRef: part.ID, MediaType: kindOf(msg.Type).String()}
	return fields, nil
}

func extractContacts(raw json.RawMessage) (channel.NormalizedFields, error) {
	msg, fields, err := decode(raw)
	if err != nil {
		return fields, err
	}
	for _, card := range msg.Contacts {
		name := card.Name.FormattedName
		if name == "" {
			name = strings.TrimSpace(card.Name.FirstName + " " + card.Name.LastName)
		}
		phones := make([]string, 0, len(card.Phones))
		for _, p := range card.Phones {
			if p.Phone != "" {
				phones = append(phones, p.Phone)
			}
		}
		fields.Contacts = append(fields.Contacts, channel.Contact{Name: name, Phones: phones})
	}
	return fields, nil
}

func extractTemplate(raw json.RawMessage) (channel.NormalizedFields, error) {
	msg, fields, err := decode(raw)
	if err != nil {
		return fields, err
	}
	if msg.Template != nil {
		fields.TemplateName = msg.Template.Name
	}
	return fields, nil
}

func extractPostback(raw json.RawMessage) (channel.NormalizedFields, error) {
	msg, fields, err := decode(raw)
	if err != nil {
		return fields, err
	}
	switch {
	case msg.Button != nil:
		fields.Body = firstNonEmpty(msg.Button.Payload, msg.Button.Text)
	case msg.Interactive != nil && msg.Interactive.ButtonReply != nil:
		fields.Body = firstNonEmpty(msg.Interactive.ButtonReply.ID, msg.Interactive.ButtonReply.Title)
	case msg.Interactive != nil && msg.Interactive.ListReply != nil:
		fields.Body = firstNonEmpty(msg.Interactive.ListReply.ID, msg.Interactive.ListReply.Title)
	}
	return fields, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Handlers returns the handler table of the platform.
func Handlers(sender channel.Sender) []channel.HandlerSpec {
	return []channel.HandlerSpec{
		{MessageKind: channel.KindText, Extract: extractText, AutoReply: true, Sender: sender},
		{MessageKind: channel.KindImage, Extract: extractMedia, Sender: sender},
		{MessageKind: channel.KindAudio, Extract: extractMedia, Sender: sender},
		{MessageKind: channel.KindVideo, Extract: extractMedia, Sender: sender},
		{MessageKind: channel.KindDocument, Extract: extractMedia, Sender: sender},
		{MessageKind: channel.KindContacts, Extract: extractContacts, Sender: sender},
		{MessageKind: channel.KindTemplate, Extract: extractTemplate, Sender: sender},
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
