// Package client keeps a participant's local copy of a room in step with the authoritative
// one by folding broadcast events into a snapshot.
package client

import (
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/event"
)

// Snapshot is the read-only view of a room that rendering consumes.
type Snapshot struct {
	// Initialized is set once a full ROOM_STATE has been received.
	Initialized bool
	Room        entity.Room
	// Result is the last announced game result, kept until the next game starts.
	Result *event.GameResult
}

// Clone returns a copy that shares no players or result with the original.
func (that Snapshot) Clone() Snapshot {
	clone := that
	clone.Room = that.Room.Clone()

	if that.Result != nil {
		result := *that.Result
		clone.Result = &result
	}

	return clone
}

func NewSnapshot(roomID string) Snapshot {
	return Snapshot{Room: *entity.NewRoom(roomID)}
}

// Apply folds one event into the snapshot and reports whether it had any effect.
// The input snapshot is never modified. Until the first ROOM_STATE every other event is dropped.
func Apply(s Snapshot, e event.Event) (Snapshot, bool) {
	if !s.Initialized {
		if _, ok := e.(event.RoomState); !ok {
			return s, false
		}
	}

	switch e := e.(type) {
	case event.RoomState:
		s.Room = e.Room.Clone()
		s.Initialized = true
	case event.GameStartsNow:
		s.Room = e.Room.Clone()
		s.Result = nil
	case event.HostChange:
		// only a seated guest can be promoted
		if s.Room.Guest == nil || s.Room.Guest.ID != e.NewHostID {
			return s, false
		}
		s.Room.Host, s.Room.Guest = s.Room.Guest, nil
	case event.PlayerCheckedBox:
		if e.Box < 0 || e.Box >= entity.BoardSize {
			return s, false
		}
		s.Room.Data.Board[e.Box] = e.Seat
		s.Room.Data.Turn = e.Seat.Other()
	case event.ClientLeft:
		switch s.Room.SeatOf(e.ClientID) {
		case entity.SeatHost:
			s.Room.Host = nil
		case entity.SeatGuest:
			s.Room.Guest = nil
		default:
			return s, false
		}
	case event.GameResult:
		result := e
		s.Result = &result
		s.Room.Data.GameEndsAt = e.GameEndsAt
	case event.GameFinishing:
		s.Room.State = entity.StateFinishing
		s.Room.Data.GameEndsAt = e.GameEndsAt
	case event.GameFinished:
		s.Room.State = entity.StateWaiting
		s.Room.Data = entity.NewRoomData()
	default:
		return s, false
	}

	return s, true
}

// Replay folds a sequence of events starting from s.
func Replay(s Snapshot, events ...event.Event) Snapshot {
	for _, e := range events {
		s, _ = Apply(s, e)
	}

	return s
}

func (that Snapshot) SeatOf(clientID string) entity.Seat {
	return that.Room.SeatOf(clientID)
}

// WhoseTurn is the seat expected to move, or SeatNone outside of a game.
func (that Snapshot) WhoseTurn() entity.Seat {
	if !that.Room.IsPlaying() {
		return entity.SeatNone
	}

	return that.Room.Data.Turn
}

func (that Snapshot) IsMyTurn(clientID string) bool {
	seat := that.SeatOf(clientID)

	return seat != entity.SeatNone && seat == that.WhoseTurn()
}

// Opponent returns the player in the other seat, or nil.
func (that Snapshot) Opponent(clientID string) *entity.Player {
	seat := that.SeatOf(clientID)
	if seat == entity.SeatNone {
		return nil
	}

	return that.Room.Player(seat.Other())
}

func (that Snapshot) Connected(seat entity.Seat) bool {
	player := that.Room.Player(seat)

	return player != nil && player.Connected
}

// CanStart reports whether the client may ask for a new game.
func (that Snapshot) CanStart(clientID string) bool {
	return that.Initialized &&
		that.Room.IsWaiting() &&
		that.SeatOf(clientID) == entity.SeatHost &&
		that.Room.Guest != nil
}
