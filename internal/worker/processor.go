// Package worker is the trusted side of every room: it consumes the control channels, applies the
// rules to the stored room and announces the outcome on the broadcast channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/event"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/transport/pubsub"
)

var (
	ErrSubscriptionClosed = errors.New("control subscription closed")

	// errNothingToDo aborts a room update that would not change anything.
	errNothingToDo = errors.New("nothing to do")
)

type roomStore interface {
	GetByID(ctx context.Context, id string) (*entity.Room, error)
	Touch(ctx context.Context, id string, ttl time.Duration) (bool, error)
	Update(ctx context.Context, id string, ttl time.Duration, fn func(room *entity.Room) error) (*entity.Room, error)
	DeleteByID(ctx context.Context, id string) error

	ScheduleFinish(ctx context.Context, id string, at int64) error
	DueFinishes(ctx context.Context, now int64) ([]string, error)
	Unschedule(ctx context.Context, id string) error
}

type bindingStore interface {
	ClearIf(ctx context.Context, clientID, roomID string) (bool, error)
}

type publisher interface {
	Publish(ctx context.Context, channel string, msg pubsub.Message) error
}

type presenceReaper interface {
	ReapStale(ctx context.Context, pattern string, grace time.Duration) (int, error)
}

type subscriber interface {
	PSubscribe(ctx context.Context, pattern string) (*pubsub.Subscription, error)
}

type Options struct {
	ActiveTTL      time.Duration
	FinishingDelay time.Duration
	SweepInterval  time.Duration
	// PresenceGrace is how long a client may miss heartbeats before it counts as disconnected.
	PresenceGrace  time.Duration
}

type handler func(ctx context.Context, roomID string, msg pubsub.Message) error

// Processor applies control channel messages to rooms one at a time.
type Processor struct {
	logger *slog.Logger

	rooms     roomStore
	bindings  bindingStore
	publisher publisher
	reaper    presenceReaper

	opts Options
	now  func() time.Time

	// presence actions are produced by the broker; intents arrive as named messages
	presenceHandlers map[string]handler
	intentHandlers   map[string]handler
}

func NewProcessor(
	logger *slog.Logger,
	rooms roomStore,
	bindings bindingStore,
	publisher publisher,
	reaper presenceReaper,
	opts Options,
) *Processor {
	processor := &Processor{
		logger: logger.With("component", "worker"),

		rooms:     rooms,
		bindings:  bindings,
		publisher: publisher,
		reaper:    reaper,

		opts: opts,
		now:  time.Now,
	}

	processor.presenceHandlers = map[string]handler{
		pubsub.ActionPresenceEnter:  processor.handleEnter,
		pubsub.ActionPresenceLeave:  processor.handleDisconnect,
		pubsub.ActionPresenceUpdate: processor.handleHeartbeat,
	}

	processor.intentHandlers = map[string]handler{
		event.IntentStartGame: processor.handleStartGame,
		event.IntentCheckBox:  processor.handleCheckBox,
		event.IntentLeaveRoom: processor.handleLeaveRoom,
	}

	return processor
}

// Run consumes every control channel until ctx is done.
func (that *Processor) Run(ctx context.Context, sub subscriber) error {
	log := that.logger.With("method", "Run")

	subscription, err := sub.PSubscribe(ctx, entity.ControlChannelPattern())
	if err != nil {
		return fmt.Errorf("failed to subscribe to control channels: %w", err)
	}
	defer subscription.Close()

	log.Info("processing control channels")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-subscription.Messages():
			if !ok {
				return ErrSubscriptionClosed
			}

			that.Handle(ctx, msg)
		}
	}
}

// Handle processes a single control channel message. Rejected messages are logged and dropped;
// clients heal on the next ROOM_STATE.
func (that *Processor) Handle(ctx context.Context, msg pubsub.Message) {
	log := that.logger.With("method", "Handle", "channel", msg.Channel, "clientID", msg.ClientID)

	roomID, ok := entity.RoomOfControlChannel(msg.Channel)
	if !ok {
		log.Debug("not a control channel")
		return
	}

	if msg.ClientID == "" {
		log.Debug("dropping anonymous message", "action", msg.Action, "name", msg.Name)
		return
	}

	key, handle, ok := that.handlerOf(msg)
	if !ok {
		log.Debug("unknown control message", "action", msg.Action, "name", msg.Name)
		return
	}

	err := handle(ctx, roomID, msg)

	switch {
	case err == nil, errors.Is(err, errNothingToDo):
	case isRejection(err):
		log.Info("control message rejected", "key", key, "error", err)
	default:
		log.Error("failed to process control message", "key", key, "error", err)
	}
}

func (that *Processor) handlerOf(msg pubsub.Message) (string, handler, bool) {
	if msg.Action == pubsub.ActionMessage {
		handle, ok := that.intentHandlers[msg.Name]
		return msg.Name, handle, ok
	}

	handle, ok := that.presenceHandlers[msg.Action]

	return msg.Action, handle, ok
}

func isRejection(err error) bool {
	for _, rejection := range []error{
		apperror.ErrNotFound,
		apperror.ErrUnauthorized,
		apperror.ErrGameIsNotStarted,
		apperror.ErrNotYourTurn,
		apperror.ErrCellOccupied,
		apperror.ErrInvalidCell,
		apperror.ErrRoomFull,
		apperror.ErrNotHost,
		apperror.ErrNotEnoughPlayers,
		apperror.ErrInvalidTransition,
		event.ErrMalformed,
	} {
		if errors.Is(err, rejection) {
			return true
		}
	}

	return false
}

// handleEnter seats the client, host first, and marks it connected.
func (that *Processor) handleEnter(ctx context.Context, roomID string, msg pubsub.Message) error {
	room, err := that.rooms.Update(ctx, roomID, that.opts.ActiveTTL, func(room *entity.Room) error {
		if _, err := room.TakeSeat(msg.ClientID); err != nil {
			return err
		}

		room.SetConnected(msg.ClientID, true)

		return nil
	})
	if errors.Is(err, apperror.ErrRoomFull) {
		// spectators still get to see the room
		room, err = that.rooms.GetByID(ctx, roomID)
		if err != nil {
			return fmt.Errorf("failed to get room: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to seat client: %w", err)
	}

	return that.broadcast(ctx, roomID, event.RoomState{Room: *room})
}

func (that *Processor) handleDisconnect(ctx context.Context, roomID string, msg pubsub.Message) error {
	room, err := that.rooms.Update(ctx, roomID, that.opts.ActiveTTL, func(room *entity.Room) error {
		if !room.SetConnected(msg.ClientID, false) {
			return errNothingToDo
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark client disconnected: %w", err)
	}

	return that.broadcast(ctx, roomID, event.RoomState{Room: *room})
}

// handleHeartbeat refreshes the room and brings back a seated client that was reaped while still alive.
func (that *Processor) handleHeartbeat(ctx context.Context, roomID string, msg pubsub.Message) error {
	room, err := that.rooms.Update(ctx, roomID, that.opts.ActiveTTL, func(room *entity.Room) error {
		if !room.SetConnected(msg.ClientID, true) {
			return errNothingToDo
		}

		return nil
	})
	if err == nil {
		return that.broadcast(ctx, roomID, event.RoomState{Room: *room})
	}

	if !errors.Is(err, errNothingToDo) {
		return fmt.Errorf("failed to mark client connected: %w", err)
	}

	found, err := that.rooms.Touch(ctx, roomID, that.opts.ActiveTTL)
	if err != nil {
		return fmt.Errorf("failed to touch room: %w", err)
	}

	if !found {
		return fmt.Errorf("room %s: %w", roomID, apperror.ErrNotFound)
	}

	return nil
}

func (that *Processor) handleStartGame(ctx context.Context, roomID string, msg pubsub.Message) error {
	room, err := that.rooms.Update(ctx, roomID, that.opts.ActiveTTL, func(room *entity.Room) error {
		return room.Start(msg.ClientID)
	})
	if err != nil {
		return fmt.Errorf("failed to start game: %w", err)
	}

	return that.broadcast(ctx, roomID, event.GameStartsNow{Room: *room})
}

func (that *Processor) handleCheckBox(ctx context.Context, roomID string, msg pubsub.Message) error {
	intent, err := decodeIntent[event.CheckBox](msg)
	if err != nil {
		return err
	}

	var (
		seat       entity.Seat
		winner     entity.Seat
		over       bool
		gameEndsAt int64
	)

	_, err = that.rooms.Update(ctx, roomID, that.opts.ActiveTTL, func(room *entity.Room) error {
		seat = room.SeatOf(msg.ClientID)
		if seat == entity.SeatNone {
			return fmt.Errorf("%w: not seated", apperror.ErrNotYourTurn)
		}

		if err := room.CheckBox(seat, intent.Box); err != nil {
			return err
		}

		winner, over = room.DetermineResult()
		if !over {
			return nil
		}

		gameEndsAt = that.finishAt()

		return room.Finish(gameEndsAt)
	})
	if err != nil {
		return fmt.Errorf("failed to check box: %w", err)
	}

	if err = that.broadcast(ctx, roomID, event.PlayerCheckedBox{Seat: seat, Box: intent.Box}); err != nil {
		return err
	}

	if !over {
		return nil
	}

	return that.announceFinish(ctx, roomID, winner, gameEndsAt)
}

// handleLeaveRoom frees the seat of the leaving client. A game in progress is forfeited to whoever stays.
func (that *Processor) handleLeaveRoom(ctx context.Context, roomID string, msg pubsub.Message) error {
	log := that.logger.With("method", "handleLeaveRoom", "roomID", roomID)

	intent, err := decodeIntent[event.LeaveRoom](msg)
	if err != nil {
		return err
	}

	// nobody leaves on behalf of someone else
	if intent.ClientID != msg.ClientID {
		return fmt.Errorf("%w: %s cannot remove %s", apperror.ErrUnauthorized, msg.ClientID, intent.ClientID)
	}

	var (
		promoted   bool
		forfeited  bool
		gameEndsAt int64
	)

	room, err := that.rooms.Update(ctx, roomID, that.opts.ActiveTTL, func(room *entity.Room) error {
		seat, wasPromoted := room.Vacate(intent.ClientID)
		if seat == entity.SeatNone {
			return errNothingToDo
		}

		promoted = wasPromoted
		forfeited = room.IsPlaying() && !room.IsEmpty()
		if !forfeited {
			return nil
		}

		gameEndsAt = that.finishAt()

		return room.Finish(gameEndsAt)
	})
	if errors.Is(err, errNothingToDo) || errors.Is(err, apperror.ErrNotFound) {
		that.clearBinding(ctx, intent.ClientID, roomID)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to vacate seat: %w", err)
	}

	that.clearBinding(ctx, intent.ClientID, roomID)

	events := []event.Event{event.ClientLeft{ClientID: intent.ClientID}}
	if promoted {
		events = append(events, event.HostChange{NewHostID: room.Host.ID})
	}

	if err = that.broadcast(ctx, roomID, events...); err != nil {
		return err
	}

	if room.IsEmpty() {
		log.Debug("deleting empty room")

		if err = that.rooms.DeleteByID(ctx, roomID); err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return fmt.Errorf("failed to delete empty room: %w", err)
		}

		if err = that.rooms.Unschedule(ctx, roomID); err != nil {
			return fmt.Errorf("failed to unschedule empty room: %w", err)
		}

		return nil
	}

	if !forfeited {
		return nil
	}

	// whoever stays holds the host seat
	return that.announceFinish(ctx, roomID, entity.SeatHost, gameEndsAt)
}

func (that *Processor) clearBinding(ctx context.Context, clientID, roomID string) {
	if _, err := that.bindings.ClearIf(ctx, clientID, roomID); err != nil {
		that.logger.Warn("failed to clear client binding", "clientID", clientID, "roomID", roomID, "error", err)
	}
}

func (that *Processor) announceFinish(ctx context.Context, roomID string, winner entity.Seat, gameEndsAt int64) error {
	if err := that.broadcast(ctx, roomID,
		event.GameResult{Winner: winner, GameEndsAt: gameEndsAt},
		event.GameFinishing{GameEndsAt: gameEndsAt},
	); err != nil {
		return err
	}

	if err := that.rooms.ScheduleFinish(ctx, roomID, gameEndsAt); err != nil {
		return fmt.Errorf("failed to schedule finish: %w", err)
	}

	return nil
}

func (that *Processor) finishAt() int64 {
	return that.now().Add(that.opts.FinishingDelay).UnixMilli()
}

// broadcast publishes the events on the broadcast channel of the room, in order.
func (that *Processor) broadcast(ctx context.Context, roomID string, events ...event.Event) error {
	channel := entity.BroadcastChannel(roomID)

	for _, e := range events {
		env, err := event.Encode(e)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}

		if err = that.publisher.Publish(ctx, channel, pubsub.NewMessage(channel, "", env)); err != nil {
			return fmt.Errorf("failed to publish %s: %w", e.Name(), err)
		}
	}

	return nil
}

func decodeIntent[T event.Intent](msg pubsub.Message) (T, error) {
	var zero T

	decoded, err := event.DecodeIntent(msg.Envelope())
	if err != nil {
		return zero, fmt.Errorf("failed to decode intent: %w", err)
	}

	intent, ok := decoded.(T)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected intent %s", event.ErrMalformed, decoded.Name())
	}

	return intent, nil
}
