package messenger

import (
	"context"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/outbound"
)

type sendRequest struct {
	Recipient     party       `json:"recipient"`
	MessagingType string      `json:"messaging_type"`
	Message       sendMessage `json:"message"`
}

type sendMessage struct {
	Text string `json:"text"`
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// Sender delivers text through the Send API of the recipient's page.
type Sender struct {
	graph *outbound.GraphClient
}

// NewSender creates a Send API sender.
func NewSender(graph *outbound.GraphClient) *Sender {
	return &Sender{graph: graph}
}

// Platform returns the platform.
func (s *Sender) Platform() channel.Platform {
	return Platform
}

// SendText posts text to the page-scoped id in to.
func (s *Sender) SendText(ctx context.Context, to channel.Recipient, text string) (channel.SendResult, error) {
	var resp sendResponse
	err := s.graph.PostJSON(ctx, to.AccessToken, "me/messages", sendRequest{
		Recipient:     party{ID: to.ExternalID},
		MessagingType: "RESPONSE",
		Message:       sendMessage{Text: text},
	}, &resp)
	if err != nil {
		return channel.SendResult{}, err
	}
	return channel.SendResult{
		Platform:          Platform,
		ExternalMessageID: resp.MessageID,
		RecipientID:       resp.RecipientID,
	}, nil
}
