package apperror

import "errors"

var (
	ErrAllocationExhausted = errors.New("unable to allocate a room id, try again later")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

var (
	ErrGameIsNotStarted  = errors.New("game is not started")
	ErrNotYourTurn       = errors.New("it's not your turn")
	ErrCellOccupied      = errors.New("cell is already occupied")
	ErrInvalidCell       = errors.New("invalid cell index")
	ErrRoomFull          = errors.New("room already has two players")
	ErrNotHost           = errors.New("only the host can do that")
	ErrNotEnoughPlayers  = errors.New("both seats must be taken")
	ErrInvalidTransition = errors.New("invalid room state transition")
)
