package pkg

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// roomIDBytes gives six hex characters, short enough to be typed by hand.
const roomIDBytes = 3

// GenerateRoomID - generates a short random identifier for the room.
func GenerateRoomID() (string, error) {
	b := make([]byte, roomIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}

// GenerateClientID - generates an identifier for an anonymous client.
func GenerateClientID() string {
	return "anon_" + uuid.NewString()
}
