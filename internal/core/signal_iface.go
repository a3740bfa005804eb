package core

import "context"

// Frame is a raw outbound payload.
type Frame []byte

// SignalConnection abstracts an outbound messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ChannelMessage is one typed event delivered on a named realtime channel.
type ChannelMessage struct {
	Channel string
	Event   string
	Data    []byte
}

// ChannelSubscriber maintains named publish/subscribe channel subscriptions.
type ChannelSubscriber interface {
	// Subscribe attaches a listener to channel. The returned cancel is idempotent;
	// the underlying subscription is dropped when its last listener cancels.
	Subscribe(channel string) (<-chan ChannelMessage, func())
}

// ChannelAuthorizer signs private channel subscriptions for a socket.
type ChannelAuthorizer interface {
	AuthorizeChannel(ctx context.Context, channel, socketID string) (ChannelAuth, error)
}

type ChannelAuth struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}
