package pubsub

import (
	"encoding/json"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/event"
)

const (
	ActionMessage        = "message"
	ActionPresenceEnter  = "presence.enter"
	ActionPresenceLeave  = "presence.leave"
	ActionPresenceUpdate = "presence.update"

	// actions only sent by clients to the gateway
	ActionSubscribe = "subscribe"
	ActionPublish   = "publish"

	// sent by the gateway to clients
	ActionError = "error"
)

// Message is the unit carried on a channel, and also the frame exchanged with the gateway.
type Message struct {
	Action   string          `json:"action"`
	Channel  string          `json:"channel,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	Name     string          `json:"name,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Envelope returns the named payload of a message.
func (that Message) Envelope() event.Envelope {
	return event.Envelope{Name: that.Name, Data: that.Data}
}

// NewMessage wraps an envelope for publishing on a channel.
func NewMessage(channel, clientID string, env event.Envelope) Message {
	return Message{
		Action:   ActionMessage,
		Channel:  channel,
		ClientID: clientID,
		Name:     env.Name,
		Data:     env.Data,
	}
}
