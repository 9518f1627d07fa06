package bus

import "context"

// InboundMessage is a message admitted from the chat platform, headed
// for the agent runtime.
type InboundMessage struct {
	ChannelID  string `json:"channel_id"`
	MessageID  string `json:"message_id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
	IsDM       bool   `json:"is_dm"`
	GuildID    string `json:"guild_id,omitempty"`
}

// OutboundMessage is agent output headed for the chat platform.
// ReplyToID, when set, makes the first chunk a threaded reply.
type OutboundMessage struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}

// Sender delivers outbound messages, applying chunking and pacing.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}
