// Package event defines the vocabulary spoken on room channels: authoritative events on the
// broadcast channel and client intents on the control channel.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

const (
	NameRoomState        = "ROOM_STATE"
	NameHostChange       = "HOST_CHANGE"
	NameGameStartsNow    = "GAME_STARTS_NOW"
	NamePlayerCheckedBox = "PLAYER_CHECKED_BOX"
	NameClientLeft       = "CLIENT_LEFT"
	NameGameResult       = "GAME_RESULT"
	NameGameFinishing    = "GAME_FINISHING"
	NameGameFinished     = "GAME_FINISHED"
)

// Envelope is a named message as it travels over a channel.
type Envelope struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is one of the broadcast events below. The set is closed; anything else decodes to Unknown.
type Event interface {
	Name() string
	payload() any
}

type RoomState struct {
	Room entity.Room
}

type HostChange struct {
	NewHostID string
}

type GameStartsNow struct {
	Room entity.Room
}

type PlayerCheckedBox struct {
	Seat entity.Seat `json:"hostOrGuest"`
	Box  int         `json:"box"`
}

type ClientLeft struct {
	ClientID string
}

// GameResult announces the end of a game. A null winner is a draw.
type GameResult struct {
	Winner     entity.Seat `json:"winner"`
	GameEndsAt int64       `json:"gameEndsAt"`
}

type GameFinishing struct {
	GameEndsAt int64
}

type GameFinished struct{}

type Unknown struct {
	EventName string
	Data      json.RawMessage
}

func (RoomState) Name() string        { return NameRoomState }
func (HostChange) Name() string       { return NameHostChange }
func (GameStartsNow) Name() string    { return NameGameStartsNow }
func (PlayerCheckedBox) Name() string { return NamePlayerCheckedBox }
func (ClientLeft) Name() string       { return NameClientLeft }
func (GameResult) Name() string       { return NameGameResult }
func (GameFinishing) Name() string    { return NameGameFinishing }
func (GameFinished) Name() string     { return NameGameFinished }
func (e Unknown) Name() string        { return e.EventName }

func (e RoomState) payload() any        { return e.Room }
func (e HostChange) payload() any       { return e.NewHostID }
func (e GameStartsNow) payload() any    { return e.Room }
func (e PlayerCheckedBox) payload() any { return e }
func (e ClientLeft) payload() any       { return e.ClientID }
func (e GameResult) payload() any       { return e }
func (e GameFinishing) payload() any    { return e.GameEndsAt }
func (GameFinished) payload() any       { return nil }
func (e Unknown) payload() any          { return e.Data }

func Encode(e Event) (Envelope, error) {
	payload := e.payload()
	if payload == nil {
		return Envelope{Name: e.Name()}, nil
	}

	if raw, ok := payload.(json.RawMessage); ok {
		return Envelope{Name: e.Name(), Data: raw}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s: %w", e.Name(), err)
	}

	return Envelope{Name: e.Name(), Data: data}, nil
}

// Decode turns an envelope into its event. Unrecognized names are not an error.
func Decode(env Envelope) (Event, error) {
	var (
		decoded Event
		err     error
	)

	switch env.Name {
	case NameRoomState:
		var e RoomState
		err = unmarshal(env, &e.Room)
		decoded = e
	case NameHostChange:
		var e HostChange
		err = unmarshal(env, &e.NewHostID)
		decoded = e
	case NameGameStartsNow:
		var e GameStartsNow
		err = unmarshal(env, &e.Room)
		decoded = e
	case NamePlayerCheckedBox:
		var e PlayerCheckedBox
		err = unmarshal(env, &e)
		decoded = e
	case NameClientLeft:
		var e ClientLeft
		err = unmarshal(env, &e.ClientID)
		decoded = e
	case NameGameResult:
		var e GameResult
		err = unmarshal(env, &e)
		decoded = e
	case NameGameFinishing:
		var e GameFinishing
		err = unmarshal(env, &e.GameEndsAt)
		decoded = e
	case NameGameFinished:
		decoded = GameFinished{}
	default:
		decoded = Unknown{EventName: env.Name, Data: env.Data}
	}

	if err != nil {
		return nil, err
	}

	return decoded, nil
}

func unmarshal(env Envelope, target any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformed, env.Name)
	}

	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformed, env.Name, err)
	}

	return nil
}
