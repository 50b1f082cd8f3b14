package transport

import (
	"context"
	"errors"

	"github.com/roach88/waypoint/internal/presence"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Message is a published channel message.
type Message struct {
	Name     string
	ClientID string
	Data     []byte
}

// PresenceMessage is a presence event on a channel. Data is the encoded
// presence payload.
type PresenceMessage struct {
	Action   presence.Action
	ClientID string
	Data     []byte
}

// Connection is a client's session with the transport.
type Connection interface {
	// ClientID identifies this client in presence messages.
	ClientID() string

	// Channel returns the named channel, attaching it on first use.
	Channel(ctx context.Context, name string) (Channel, error)

	// OnStateChange registers fn for connection state changes. The current
	// state is delivered first. The returned func unregisters fn.
	OnStateChange(fn func(presence.TransportState, error)) func()

	// Close leaves presence on every channel and closes the connection.
	Close(ctx context.Context) error
}

// Channel is one named channel as seen by a Connection.
type Channel interface {
	Name() string

	// SubscribePresence registers fn for presence events. Members already
	// present are delivered first as ActionPresent.
	SubscribePresence(fn func(PresenceMessage)) func()

	EnterPresence(ctx context.Context, data []byte) error
	UpdatePresence(ctx context.Context, data []byte) error
	LeavePresence(ctx context.Context, data []byte) error

	// Publish sends a message to every subscriber of the channel.
	Publish(ctx context.Context, name string, data []byte) error

	// Subscribe registers fn for messages named name.
	Subscribe(name string, fn func(Message)) func()

	// OnStateChange registers fn for channel state changes. The current
	// state is delivered first.
	OnStateChange(fn func(presence.ChannelState, error)) func()

	// Detach leaves presence and releases the channel.
	Detach(ctx context.Context) error
}
