package channel_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/memohai/socialdesk/internal/channel"
)

type stubSender struct {
	platform channel.Platform
	calls    int
}

func (s *stubSender) Platform() channel.Platform { return s.platform }

func (s *stubSender) SendText(ctx context.Context, to channel.Recipient, text string) (channel.SendResult, error) {
	s.calls++
	return channel.SendResult{Platform: s.platform, RecipientID: to.ExternalID, ExternalMessageID: "mid-1"}, nil
}

func textSpec(sender channel.Sender) channel.HandlerSpec {
	return channel.HandlerSpec{
		MessageKind: channel.KindText,
		AutoReply:   true,
		Sender:      sender,
		Extract: func(raw json.RawMessage) (channel.NormalizedFields, error) {
			var in struct {
				ID   string `json:"id"`
				Text string `json:"text"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return channel.NormalizedFields{}, err
			}
			return channel.NormalizedFields{ExternalMessageID: in.ID, Body: in.Text}, nil
		},
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	if err := reg.Register(channel.PlatformMessenger, textSpec(nil)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(" Messenger ", textSpec(nil)); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegistry_RegisterRejectsNil(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	if err := reg.Register(channel.PlatformMessenger, nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
	if err := reg.Register("", textSpec(nil)); err == nil {
		t.Fatal("expected error for empty platform")
	}
}

func TestRegistry_LookupFallsBackToUnsupported(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	reg.MustRegister(channel.PlatformWhatsApp, textSpec(nil))

	h := reg.Lookup(channel.PlatformWhatsApp, channel.MessageKind("sticker"))
	if h == nil {
		t.Fatal("Lookup returned nil")
	}
	if h.Kind() != channel.KindUnsupported {
		t.Fatalf("kind = %s, want unsupported", h.Kind())
	}
	if h.ShouldAutoReply() {
		t.Fatal("unsupported handler must not auto reply")
	}
	if _, err := h.SendReply(context.Background(), channel.Recipient{}, "hi"); !errors.Is(err, channel.ErrNoSender) {
		t.Fatalf("SendReply err = %v, want ErrNoSender", err)
	}
}

func TestRegistry_LookupPrefersPlatformUnsupported(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	custom := channel.HandlerSpec{
		MessageKind: channel.KindUnsupported,
		Extract: func(json.RawMessage) (channel.NormalizedFields, error) {
			return channel.NormalizedFields{Body: "custom"}, nil
		},
	}
	reg.MustRegister(channel.PlatformMessenger, custom)
	fields, err := reg.Lookup(channel.PlatformMessenger, "reaction").ExtractFields(nil)
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	if fields.Body != "custom" {
		t.Fatalf("body = %q, want platform handler output", fields.Body)
	}
}

func TestHandlerSpec_SendReplyDelegatesToSender(t *testing.T) {
	t.Parallel()
	sender := &stubSender{platform: channel.PlatformMessenger}
	h := textSpec(sender)
	res, err := h.SendReply(context.Background(), channel.Recipient{ExternalID: "psid-1"}, "hello")
	if err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	if sender.calls != 1 || res.RecipientID != "psid-1" {
		t.Fatalf("unexpected result %+v after %d calls", res, sender.calls)
	}
}

func TestRegistry_SenderRegistration(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	if err := reg.RegisterSender(&stubSender{platform: channel.PlatformWhatsApp}); err != nil {
		t.Fatalf("RegisterSender: %v", err)
	}
	if err := reg.RegisterSender(&stubSender{platform: channel.PlatformWhatsApp}); err == nil {
		t.Fatal("expected duplicate sender error")
	}
	if _, ok := reg.Sender("WHATSAPP"); !ok {
		t.Fatal("sender lookup should normalize platform")
	}
	if _, ok := reg.Sender(channel.PlatformTwitter); ok {
		t.Fatal("unexpected sender for twitter")
	}
}

func TestRegistry_Kinds(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	reg.MustRegister(channel.PlatformMessenger, textSpec(nil))
	reg.MustRegister(channel.PlatformMessenger, channel.HandlerSpec{MessageKind: channel.KindImage})
	reg.MustRegister(channel.PlatformWhatsApp, textSpec(nil))
	if got := len(reg.Kinds(channel.PlatformMessenger)); got != 2 {
		t.Fatalf("messenger kinds = %d, want 2", got)
	}
}
