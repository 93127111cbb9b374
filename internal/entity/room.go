package entity

import (
	"encoding/json"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
)

// Seat is a role inside a room. The zero value marks an empty cell or a draw.
type Seat string

const (
	SeatNone  Seat = ""
	SeatHost  Seat = "host"
	SeatGuest Seat = "guest"
)

// Other returns the opposite seat.
func (s Seat) Other() Seat {
	switch s {
	case SeatHost:
		return SeatGuest
	case SeatGuest:
		return SeatHost
	default:
		return SeatNone
	}
}

func (s Seat) MarshalJSON() ([]byte, error) {
	if s == SeatNone {
		return []byte("null"), nil
	}

	return json.Marshal(string(s))
}

func (s *Seat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = SeatNone
		return nil
	}

	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("failed to unmarshal seat: %w", err)
	}

	*s = Seat(value)

	return nil
}

type State string

const (
	StateWaiting   State = "waiting"
	StatePlaying   State = "playing"
	StateFinishing State = "finishing"
)

const (
	BoardSize  = 9
	NoDeadline = int64(-1)
)

var (
	WinCombos = [][3]int{
		{0, 1, 2},
		{3, 4, 5},
		{6, 7, 8},
		{0, 3, 6},
		{1, 4, 7},
		{2, 5, 8},
		{0, 4, 8},
		{2, 4, 6},
	}

	transitions = map[State]State{
		StateWaiting:   StatePlaying,
		StatePlaying:   StateFinishing,
		StateFinishing: StateWaiting,
	}
)

type Player struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
}

// RoomData is the game payload of a room.
type RoomData struct {
	Ticks      int             `json:"ticks"`
	Board      [BoardSize]Seat `json:"board"`
	Turn       Seat            `json:"turn"`
	TurnEndsAt int64           `json:"turnEndsAt"`
	GameEndsAt int64           `json:"gameEndsAt"`
}

func NewRoomData() RoomData {
	return RoomData{
		Turn:       SeatHost,
		TurnEndsAt: NoDeadline,
		GameEndsAt: NoDeadline,
	}
}

type Room struct {
	ID    string   `json:"id"`
	Host  *Player  `json:"host"`
	Guest *Player  `json:"guest"`
	State State    `json:"state"`
	Data  RoomData `json:"data"`
}

func NewRoom(id string) *Room {
	return &Room{
		ID:    id,
		State: StateWaiting,
		Data:  NewRoomData(),
	}
}

// Clone returns a deep copy, so that the players of the copy can be changed independently.
func (that *Room) Clone() Room {
	clone := *that

	if that.Host != nil {
		host := *that.Host
		clone.Host = &host
	}

	if that.Guest != nil {
		guest := *that.Guest
		clone.Guest = &guest
	}

	return clone
}

func (that *Room) IsWaiting() bool {
	return that.State == StateWaiting
}

func (that *Room) IsPlaying() bool {
	return that.State == StatePlaying
}

func (that *Room) IsFinishing() bool {
	return that.State == StateFinishing
}

func (that *Room) IsEmpty() bool {
	return that.Host == nil && that.Guest == nil
}

// Player returns the occupant of the seat or nil.
func (that *Room) Player(seat Seat) *Player {
	switch seat {
	case SeatHost:
		return that.Host
	case SeatGuest:
		return that.Guest
	default:
		return nil
	}
}

// SeatOf reports which seat the client occupies.
func (that *Room) SeatOf(clientID string) Seat {
	switch {
	case clientID == "":
		return SeatNone
	case that.Host != nil && that.Host.ID == clientID:
		return SeatHost
	case that.Guest != nil && that.Guest.ID == clientID:
		return SeatGuest
	default:
		return SeatNone
	}
}

// TakeSeat seats the client, host first. A client that is already seated keeps its seat.
func (that *Room) TakeSeat(clientID string) (Seat, error) {
	if seat := that.SeatOf(clientID); seat != SeatNone {
		return seat, nil
	}

	switch {
	case that.Host == nil:
		that.Host = &Player{ID: clientID, Connected: true}
		return SeatHost, nil
	case that.Guest == nil:
		that.Guest = &Player{ID: clientID, Connected: true}
		return SeatGuest, nil
	default:
		return SeatNone, apperror.ErrRoomFull
	}
}

// Vacate clears the seat of the client. When the host leaves while a guest is seated,
// the guest is promoted to host and promoted is true.
func (that *Room) Vacate(clientID string) (Seat, bool) {
	switch that.SeatOf(clientID) {
	case SeatHost:
		that.Host = nil
		if that.Guest != nil {
			that.Host, that.Guest = that.Guest, nil
			return SeatHost, true
		}
		return SeatHost, false
	case SeatGuest:
		that.Guest = nil
		return SeatGuest, false
	default:
		return SeatNone, false
	}
}

// SetConnected updates the connection flag of a seated client and reports whether it changed.
func (that *Room) SetConnected(clientID string, connected bool) bool {
	player := that.Player(that.SeatOf(clientID))
	if player == nil || player.Connected == connected {
		return false
	}

	player.Connected = connected

	return true
}

func (that *Room) Transition(to State) error {
	if transitions[that.State] != to {
		return fmt.Errorf("%w: %s -> %s", apperror.ErrInvalidTransition, that.State, to)
	}

	that.State = to

	return nil
}

// Start begins a new game on a fresh board. Only the host may start, and only with both seats taken.
func (that *Room) Start(clientID string) error {
	if that.SeatOf(clientID) != SeatHost {
		return apperror.ErrNotHost
	}

	if that.Host == nil || that.Guest == nil {
		return apperror.ErrNotEnoughPlayers
	}

	if err := that.Transition(StatePlaying); err != nil {
		return err
	}

	that.Data = NewRoomData()

	return nil
}

func (that *Room) CheckBox(seat Seat, cell int) error {
	if !that.IsPlaying() {
		return apperror.ErrGameIsNotStarted
	}

	if cell < 0 || cell >= BoardSize {
		return fmt.Errorf("%w: cell %d", apperror.ErrInvalidCell, cell)
	}

	if that.Data.Turn != seat {
		return apperror.ErrNotYourTurn
	}

	if that.Data.Board[cell] != SeatNone {
		return apperror.ErrCellOccupied
	}

	that.Data.Board[cell] = seat
	that.Data.Turn = seat.Other()
	that.Data.Ticks++

	return nil
}

// DetermineResult reports whether the game is over and who won. A finished game
// without a winner is a draw.
func (that *Room) DetermineResult() (Seat, bool) {
	board := that.Data.Board
	for _, combo := range WinCombos {
		a, b, c := board[combo[0]], board[combo[1]], board[combo[2]]
		if a != SeatNone && a == b && b == c {
			return a, true
		}
	}

	// the game will continue until all the squares are full
	for _, cell := range board {
		if cell == SeatNone {
			return SeatNone, false
		}
	}

	return SeatNone, true
}

func (that *Room) Finish(gameEndsAt int64) error {
	if err := that.Transition(StateFinishing); err != nil {
		return err
	}

	that.Data.GameEndsAt = gameEndsAt

	return nil
}

// Reset returns a finishing room to waiting with default data. Seats are kept.
func (that *Room) Reset() error {
	if err := that.Transition(StateWaiting); err != nil {
		return err
	}

	that.Data = NewRoomData()

	return nil
}
