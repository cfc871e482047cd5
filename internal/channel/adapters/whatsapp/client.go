package whatsapp

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/outbound"
)

var recipientPattern = regexp.MustCompile(`^\d{10,15}$`)

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type sendResponse struct {
	Contacts []struct {
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type mediaResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	ID       string `json:"id"`
}

// Client sends messages from a business phone number and resolves media ids.
type Client struct {
	graph *outbound.GraphClient
}

// NewClient creates a Cloud API client.
func NewClient(graph *outbound.GraphClient) *Client {
	return &Client{graph: graph}
}

// Platform returns the platform.
func (c *Client) Platform() channel.Platform {
	return Platform
}

// SendText sends text from the phone number in to.RoutingID. The recipient
// must be an international number of 10 to 15 digits.
func (c *Client) SendText(ctx context.Context, to channel.Recipient, text string) (channel.SendResult, error) {
	recipient := strings.TrimPrefix(strings.TrimSpace(to.ExternalID), "+")
	if !recipientPattern.MatchString(recipient) {
		return channel.SendResult{}, fmt.Errorf("%w: invalid whatsapp recipient %q", outbound.ErrPermanent, to.ExternalID)
	}
	if strings.TrimSpace(to.RoutingID) == "" {
		return channel.SendResult{}, fmt.Errorf("%w: phone number id is required", outbound.ErrPermanent)
	}
	var resp sendResponse
	err := c.graph.PostJSON(ctx, to.AccessToken, to.RoutingID+"/messages", sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "text",
		Text:             textBody{Body: text},
	}, &resp)
	if err != nil {
		return channel.SendResult{}, err
	}
	result := channel.SendResult{Platform: Platform, RecipientID: recipient}
	if len(resp.Messages) > 0 {
		result.ExternalMessageID = resp.Messages[0].ID
	}
	if len(resp.Contacts) > 0 && resp.Contacts[0].WaID != "" {
		result.RecipientID = resp.Contacts[0].WaID
	}
	return result, nil
}

// ResolveMediaURL looks up the short-lived download URL of a media id.
func (c *Client) ResolveMediaURL(ctx context.Context, mediaRef, accessToken string) (string, error) {
	if strings.TrimSpace(mediaRef) == "" {
		return "", fmt.Errorf("%w: media id is required", outbound.ErrPermanent)
	}
	var resp mediaResponse
	if err := c.graph.GetJSON(ctx, accessToken, mediaRef, &resp); err != nil {
		return "", fmt.Errorf("resolve media %s: %w", mediaRef, err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("resolve media %s: empty url", mediaRef)
	}
	return resp.URL, nil
}
