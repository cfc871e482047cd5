package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/channel/webhook"
	"github.com/memohai/socialdesk/internal/config"
	"github.com/memohai/socialdesk/internal/outbound"
)

const businessWebhook = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "waba-1",
    "changes": [
      {"field": "messages", "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "pn-1"},
        "contacts": [{"profile": {"name": "Ann"}, "wa_id": "15551234567"}],
        "messages": [
          {"from": "15551234567", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "hello"}},
          {"from": "15551234567", "id": "wamid.2", "timestamp": "1700000001", "type": "image", "image": {"id": "media-9", "mime_type": "image/jpeg", "caption": "receipt"}},
          {"from": "15551234567", "id": "wamid.3", "timestamp": "1700000002", "type": "contacts", "contacts": [
            {"name": {"formatted_name": "Bob Stone"}, "phones": [{"phone": "+1 555 0100"}]},
            {"name": {"first_name": "Cy", "last_name": "Ray"}, "phones": [{"phone": "+1 555 0101"}, {"phone": "+1 555 0102"}]}
          ]},
          {"from": "15551234567", "id": "wamid.4", "timestamp": "1700000003", "type": "template", "template": {"name": "order_update"}},
          {"from": "15551234567", "id": "wamid.5", "timestamp": "1700000004", "type": "interactive", "interactive": {"type": "button_reply", "button_reply": {"id": "YES", "title": "Yes"}}},
          {"from": "15551234567", "id": "wamid.6", "timestamp": "1700000005", "type": "reaction", "reaction": {"emoji": "+"}}
        ]
      }},
      {"field": "messages", "value": {
        "metadata": {"phone_number_id": "pn-1"},
        "statuses": [{"id": "wamid.out", "status": "delivered"}]
      }},
      {"field": "account_update", "value": {}}
    ]
  }]
}`

func TestParse_RoutesByPhoneNumberID(t *testing.T) {
	t.Parallel()

	entries, err := Parse([]byte(businessWebhook))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pn-1", entries[0].RoutingID)

	kinds := make([]channel.MessageKind, 0, len(entries[0].Events))
	for _, ev := range entries[0].Events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []channel.MessageKind{
		channel.KindText,
		channel.KindImage,
		channel.KindContacts,
		channel.KindTemplate,
		channel.KindPostback,
		channel.KindUnsupported,
	}, kinds)
}

func TestParse_RejectsOtherObjects(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"object":"page","entry":[]}`))
	require.ErrorIs(t, err, webhook.ErrMalformed)
}

func TestExtract_Fields(t *testing.T) {
	t.Parallel()

	entries, err := Parse([]byte(businessWebhook))
	require.NoError(t, err)
	events := entries[0].Events

	text, err := extractText(events[0].Raw)
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", text.ExternalMessageID)
	assert.Equal(t, "15551234567", text.SenderID)
	assert.Equal(t, "Ann", text.SenderName)
	assert.Equal(t, "hello", text.Body)
	assert.Equal(t, int64(1700000000), text.Timestamp.Unix())

	img, err := extractMedia(events[1].Raw)
	require.NoError(t, err)
	assert.Equal(t, "receipt", img.Body)
	require.NotNil(t, img.Attachment)
	assert.Equal(t, "media-9", img.Attachment.MediaRef)
	assert.Equal(t, "image", img.Attachment.MediaType)
	assert.Empty(t, img.Attachment.URL)

	contacts, err := extractContacts(events[2].Raw)
	require.NoError(t, err)
	assert.Equal(t, []channel.Contact{
		{Name: "Bob Stone", Phones: []string{"+1 555 0100"}},
		{Name: "Cy Ray", Phones: []string{"+1 555 0101", "+1 555 0102"}},
	}, contacts.Contacts)

	tpl, err := extractTemplate(events[3].Raw)
	require.NoError(t, err)
	assert.Equal(t, "order_update", tpl.TemplateName)

	pb, err := extractPostback(events[4].Raw)
	require.NoError(t, err)
	assert.Equal(t, "YES", pb.Body)
}

func TestExtractMedia_RequiresMediaID(t *testing.T) {
	t.Parallel()

	raw, _ := json.Marshal(event{Message: json.RawMessage(`{"from":"15551234567","id":"w","type":"image","image":{}}`)})
	_, err := extractMedia(raw)
	require.Error(t, err)
}

func TestInstall_AutoReplyOnlyForText(t *testing.T) {
	t.Parallel()

	registry := channel.NewRegistry()
	require.NoError(t, Install(registry, NewClient(nil)))
	assert.True(t, registry.Lookup(Platform, channel.KindText).ShouldAutoReply())
	for _, kind := range []channel.MessageKind{channel.KindImage, channel.KindContacts, channel.KindTemplate} {
		assert.False(t, registry.Lookup(Platform, kind).ShouldAutoReply(), kind)
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(outbound.NewGraphClient(config.GraphConfig{BaseURL: srv.URL, Version: "v22.0", TimeoutSeconds: 2}))
}

func TestClient_SendText(t *testing.T) {
	t.Parallel()

	var got sendRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v22.0/pn-1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"15551234567","wa_id":"15551234567"}],"messages":[{"id":"wamid.out"}]}`))
	})

	res, err := client.SendText(context.Background(), channel.Recipient{ExternalID: "+15551234567", RoutingID: "pn-1", AccessToken: "tok"}, "thanks")
	require.NoError(t, err)
	assert.Equal(t, "wamid.out", res.ExternalMessageID)
	assert.Equal(t, "15551234567", res.RecipientID)
	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "individual", got.RecipientType)
	assert.Equal(t, "15551234567", got.To)
	assert.Equal(t, "text", got.Type)
	assert.Equal(t, "thanks", got.Text.Body)
}

func TestClient_SendTextRejectsBadRecipient(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	})
	for _, to := range []string{"", "12345", "1555abc4567", "1234567890123456"} {
		_, err := client.SendText(context.Background(), channel.Recipient{ExternalID: to, RoutingID: "pn-1"}, "hi")
		assert.True(t, errors.Is(err, outbound.ErrPermanent), to)
	}
}

func TestClient_ResolveMediaURL(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v22.0/media-9" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("unexpected auth %q", auth)
		}
		_, _ = w.Write([]byte(`{"url":"https://lookaside.example.com/m9","mime_type":"image/jpeg","file_size":10,"id":"media-9"}`))
	})

	url, err := client.ResolveMediaURL(context.Background(), "media-9", "tok")
	require.NoError(t, err)
	assert.Equal(t, "https://lookaside.example.com/m9", url)

	_, err = client.ResolveMediaURL(context.Background(), "", "tok")
	require.ErrorIs(t, err, outbound.ErrPermanent)
}
