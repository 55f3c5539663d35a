// Package chat connects the assistant to the chat platform: sending
// and updating outbound messages, emitting typing-style status events,
// and receiving inbound messages and stop-generation requests.
package chat

import "context"

// Message is an inbound chat message addressed to the assistant.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`

	// ImageURL is set when the message carries an image attachment.
	ImageURL string `json:"image_url,omitempty"`
}

// StopRequest asks the assistant to stop generating a specific
// outbound message.
type StopRequest struct {
	MessageID string `json:"message_id"`
}

// Attachment is an image attached to an outbound message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Client is the chat platform surface the assistant consumes. Updates
// are full-text replacements: every UpdateMessage carries the complete
// accumulated text, so out-of-order delivery self-heals.
type Client interface {
	// SendMessage posts a new message and returns its id.
	SendMessage(ctx context.Context, channelID, text string) (string, error)

	// UpdateMessage replaces the full text (and attachments) of a
	// previously sent message.
	UpdateMessage(ctx context.Context, messageID, text string, attachments []Attachment) error

	// SendStatus sets an ephemeral status indicator on a channel.
	// An empty status clears it.
	SendStatus(ctx context.Context, channelID, status string) error

	// Messages delivers inbound messages addressed to the assistant.
	Messages() <-chan Message

	// Stops delivers stop-generation requests.
	Stops() <-chan StopRequest

	Close() error
}
