package entity

import "strings"

const (
	controlPrefix   = "control:"
	broadcastPrefix = "server:"
)

// ControlChannel carries client intents for a room. Only server processing acts on it.
func ControlChannel(roomID string) string {
	return controlPrefix + roomID
}

// BroadcastChannel carries authoritative events for a room.
func BroadcastChannel(roomID string) string {
	return broadcastPrefix + roomID
}

// ControlChannelPattern matches every control channel.
func ControlChannelPattern() string {
	return controlPrefix + "*"
}

// RoomOfControlChannel extracts the room id from a control channel name.
func RoomOfControlChannel(channel string) (string, bool) {
	roomID, ok := strings.CutPrefix(channel, controlPrefix)
	if !ok || roomID == "" {
		return "", false
	}

	return roomID, true
}
