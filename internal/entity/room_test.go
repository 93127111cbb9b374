package entity

import (
	"encoding/json"
	"testing"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func playingRoom() *Room {
	room := NewRoom("a1b2c3")
	room.Host = &Player{ID: "alice", Connected: true}
	room.Guest = &Player{ID: "bob", Connected: true}
	room.State = StatePlaying

	return room
}

func TestNewRoom(t *testing.T) {
	// Given: a new room
	room := NewRoom("a1b2c3")

	// Then: it is waiting with empty seats and a fresh board
	expected := &Room{
		ID:    "a1b2c3",
		State: StateWaiting,
		Data: RoomData{
			Turn:       SeatHost,
			TurnEndsAt: NoDeadline,
			GameEndsAt: NoDeadline,
		},
	}

	require.Equal(t, expected, room)
	assert.True(t, room.IsEmpty())
	assert.Len(t, room.Data.Board, BoardSize)
}

func TestRoom_JSON(t *testing.T) {
	t.Run("Empty cells and seats are encoded as null", func(t *testing.T) {
		// Given: a room with one checked box
		room := NewRoom("a1b2c3")
		room.Data.Board[4] = SeatHost

		// When: encoding it
		data, err := json.Marshal(room)
		require.NoError(t, err)

		// Then: empty values are null
		assert.JSONEq(t, `{
			"id": "a1b2c3",
			"host": null,
			"guest": null,
			"state": "waiting",
			"data": {
				"ticks": 0,
				"board": [null, null, null, null, "host", null, null, null, null],
				"turn": "host",
				"turnEndsAt": -1,
				"gameEndsAt": -1
			}
		}`, string(data))
	})

	t.Run("Decoding restores the same room", func(t *testing.T) {
		// Given: an encoded playing room
		room := playingRoom()
		room.Data.Board[0] = SeatGuest
		data, err := json.Marshal(room)
		require.NoError(t, err)

		// When: decoding it
		var decoded Room
		require.NoError(t, json.Unmarshal(data, &decoded))

		// Then: it matches the original
		assert.Equal(t, *room, decoded)
	})
}

func TestRoom_SetConnected(t *testing.T) {
	room := playingRoom()

	assert.False(t, room.SetConnected("alice", true), "already connected")
	assert.True(t, room.SetConnected("alice", false))
	assert.False(t, room.Host.Connected)
	assert.False(t, room.SetConnected("alice", false), "already disconnected")
	assert.True(t, room.SetConnected("alice", true))
	assert.False(t, room.SetConnected("carol", true), "not seated")
}

func TestRoom_Clone(t *testing.T) {
	// Given: a room with both players
	room := playingRoom()

	// When: the clone's players are changed
	clone := room.Clone()
	clone.Host.Connected = false
	clone.Guest = nil
	clone.Data.Board[0] = SeatHost

	// Then: the original is untouched
	assert.True(t, room.Host.Connected)
	assert.NotNil(t, room.Guest)
	assert.Equal(t, SeatNone, room.Data.Board[0])
}

func TestRoom_TakeSeat(t *testing.T) {
	t.Run("First client becomes host, second becomes guest", func(t *testing.T) {
		room := NewRoom("a1b2c3")

		seat, err := room.TakeSeat("alice")
		require.NoError(t, err)
		assert.Equal(t, SeatHost, seat)

		seat, err = room.TakeSeat("bob")
		require.NoError(t, err)
		assert.Equal(t, SeatGuest, seat)

		assert.Equal(t, "alice", room.Host.ID)
		assert.Equal(t, "bob", room.Guest.ID)
	})

	t.Run("Seated client keeps its seat", func(t *testing.T) {
		// Given: alice is the host
		room := NewRoom("a1b2c3")
		_, err := room.TakeSeat("alice")
		require.NoError(t, err)

		// When: alice takes a seat again
		seat, err := room.TakeSeat("alice")

		// Then: she is still host and the guest seat stays empty
		require.NoError(t, err)
		assert.Equal(t, SeatHost, seat)
		assert.Nil(t, room.Guest)
	})

	t.Run("Third client is rejected", func(t *testing.T) {
		room := playingRoom()

		seat, err := room.TakeSeat("carol")

		require.ErrorIs(t, err, apperror.ErrRoomFull)
		assert.Equal(t, SeatNone, seat)
	})
}

func TestRoom_Vacate(t *testing.T) {
	t.Run("Host leaving promotes the guest", func(t *testing.T) {
		room := playingRoom()

		seat, promoted := room.Vacate("alice")

		assert.Equal(t, SeatHost, seat)
		assert.True(t, promoted)
		assert.Equal(t, "bob", room.Host.ID)
		assert.Nil(t, room.Guest)
	})

	t.Run("Guest leaving clears the guest seat", func(t *testing.T) {
		room := playingRoom()

		seat, promoted := room.Vacate("bob")

		assert.Equal(t, SeatGuest, seat)
		assert.False(t, promoted)
		assert.Equal(t, "alice", room.Host.ID)
		assert.Nil(t, room.Guest)
	})

	t.Run("Unknown client changes nothing", func(t *testing.T) {
		room := playingRoom()

		seat, promoted := room.Vacate("carol")

		assert.Equal(t, SeatNone, seat)
		assert.False(t, promoted)
		assert.Equal(t, *playingRoom(), *room)
	})
}

func TestRoom_Transition(t *testing.T) {
	t.Run("Follows waiting, playing, finishing, waiting", func(t *testing.T) {
		room := NewRoom("a1b2c3")

		require.NoError(t, room.Transition(StatePlaying))
		require.NoError(t, room.Transition(StateFinishing))
		require.NoError(t, room.Transition(StateWaiting))
	})

	t.Run("Rejects skipping and reversing", func(t *testing.T) {
		room := NewRoom("a1b2c3")

		require.ErrorIs(t, room.Transition(StateFinishing), apperror.ErrInvalidTransition)

		room.State = StatePlaying
		require.ErrorIs(t, room.Transition(StateWaiting), apperror.ErrInvalidTransition)
		assert.Equal(t, StatePlaying, room.State)
	})
}

func TestRoom_Start(t *testing.T) {
	t.Run("Host starts with both seats taken", func(t *testing.T) {
		room := playingRoom()
		room.State = StateWaiting
		room.Data.Board[0] = SeatGuest

		require.NoError(t, room.Start("alice"))

		assert.Equal(t, StatePlaying, room.State)
		assert.Equal(t, NewRoomData(), room.Data)
	})

	t.Run("Guest cannot start", func(t *testing.T) {
		room := playingRoom()
		room.State = StateWaiting

		require.ErrorIs(t, room.Start("bob"), apperror.ErrNotHost)
	})

	t.Run("Host alone cannot start", func(t *testing.T) {
		room := NewRoom("a1b2c3")
		_, err := room.TakeSeat("alice")
		require.NoError(t, err)

		require.ErrorIs(t, room.Start("alice"), apperror.ErrNotEnoughPlayers)
	})
}

func TestRoom_CheckBox(t *testing.T) {
	t.Run("Successful turn", func(t *testing.T) {
		// Given: a playing room where the host moves
		room := playingRoom()

		// When: the host checks box 4
		err := room.CheckBox(SeatHost, 4)

		// Then: the box is the host's and the turn goes to the guest
		require.NoError(t, err)
		assert.Equal(t, SeatHost, room.Data.Board[4])
		assert.Equal(t, SeatGuest, room.Data.Turn)
		assert.Equal(t, 1, room.Data.Ticks)
	})

	t.Run("Error on cell already occupied", func(t *testing.T) {
		room := playingRoom()
		require.NoError(t, room.CheckBox(SeatHost, 0))

		err := room.CheckBox(SeatGuest, 0)

		require.ErrorIs(t, err, apperror.ErrCellOccupied)
		assert.Equal(t, SeatGuest, room.Data.Turn)
	})

	t.Run("Error on playing out of turn", func(t *testing.T) {
		room := playingRoom()

		err := room.CheckBox(SeatGuest, 1)

		require.ErrorIs(t, err, apperror.ErrNotYourTurn)
		assert.Equal(t, SeatNone, room.Data.Board[1])
	})

	t.Run("Error on invalid cell index", func(t *testing.T) {
		room := playingRoom()

		assert.ErrorIs(t, room.CheckBox(SeatHost, 9), apperror.ErrInvalidCell)
		assert.ErrorIs(t, room.CheckBox(SeatHost, -1), apperror.ErrInvalidCell)
	})

	t.Run("Error when the game is not started", func(t *testing.T) {
		room := playingRoom()
		room.State = StateWaiting

		assert.ErrorIs(t, room.CheckBox(SeatHost, 0), apperror.ErrGameIsNotStarted)
	})
}

func TestRoom_DetermineResult(t *testing.T) {
	t.Run("Host wins on a row", func(t *testing.T) {
		room := playingRoom()
		room.Data.Board = [BoardSize]Seat{
			SeatHost, SeatHost, SeatHost,
			SeatGuest, SeatGuest, SeatNone,
			SeatNone, SeatNone, SeatNone,
		}

		winner, over := room.DetermineResult()

		assert.True(t, over)
		assert.Equal(t, SeatHost, winner)
	})

	t.Run("Full board without a line is a draw", func(t *testing.T) {
		room := playingRoom()
		room.Data.Board = [BoardSize]Seat{
			SeatHost, SeatGuest, SeatHost,
			SeatGuest, SeatHost, SeatGuest,
			SeatGuest, SeatHost, SeatGuest,
		}

		winner, over := room.DetermineResult()

		assert.True(t, over)
		assert.Equal(t, SeatNone, winner)
	})

	t.Run("Game continues while cells are empty", func(t *testing.T) {
		room := playingRoom()
		room.Data.Board[0] = SeatHost
		room.Data.Board[4] = SeatGuest

		_, over := room.DetermineResult()

		assert.False(t, over)
	})
}

func TestRoom_FinishAndReset(t *testing.T) {
	// Given: a playing room with a move on the board
	room := playingRoom()
	require.NoError(t, room.CheckBox(SeatHost, 0))

	// When: the game finishes and then resets
	require.NoError(t, room.Finish(1000))
	assert.Equal(t, StateFinishing, room.State)
	assert.Equal(t, int64(1000), room.Data.GameEndsAt)

	require.NoError(t, room.Reset())

	// Then: data is back to defaults and the seats are kept
	assert.Equal(t, StateWaiting, room.State)
	assert.Equal(t, NewRoomData(), room.Data)
	assert.Equal(t, "alice", room.Host.ID)
	assert.Equal(t, "bob", room.Guest.ID)
}

func TestControlChannel(t *testing.T) {
	assert.Equal(t, "control:a1b2c3", ControlChannel("a1b2c3"))
	assert.Equal(t, "server:a1b2c3", BroadcastChannel("a1b2c3"))

	roomID, ok := RoomOfControlChannel("control:a1b2c3")
	assert.True(t, ok)
	assert.Equal(t, "a1b2c3", roomID)

	_, ok = RoomOfControlChannel("server:a1b2c3")
	assert.False(t, ok)

	_, ok = RoomOfControlChannel("control:")
	assert.False(t, ok)
}
