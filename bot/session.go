// Package bot routes chat commands: cooldown gate, chart capture, help and
// shutdown. Chat transports deliver Requests and implement Session.
package bot

import (
	"context"
	"time"
)

// Session is the outbound half of a chat transport.
type Session interface {
	// Send posts msg to channelID and returns the new message ID.
	Send(ctx context.Context, channelID string, msg Message) (string, error)
	Delete(ctx context.Context, channelID, messageID string) error
}

// Request is one inbound chat message.
type Request struct {
	UserID     string
	ChannelID  string
	Text       string
	ReceivedAt time.Time
	// FromSelf is set by transports that can tell the bot's own messages apart.
	FromSelf bool
}
