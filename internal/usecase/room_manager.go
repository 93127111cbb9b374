package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/capability"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/event"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/transport/pubsub"
)

// RoomManager allocates rooms and moves clients between them.
type RoomManager interface {
	Allocate(ctx context.Context, clientID string) (*Allocation, error)
	Join(ctx context.Context, clientID, roomID string) (*Allocation, error)
	Resume(ctx context.Context, clientID string) (*Allocation, error)
	MyRoom(ctx context.Context, clientID string) (string, error)
	Leave(ctx context.Context, clientID string) error
}

// Allocation is what a client needs to take part in a room.
type Allocation struct {
	ClientID   string                 `json:"clientId"`
	RoomID     string                 `json:"roomId"`
	Credential *capability.Credential `json:"credential"`
}

type roomRepo interface {
	CreateIfAbsent(ctx context.Context, room *entity.Room, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
	Touch(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

type bindingRepo interface {
	Swap(ctx context.Context, clientID, roomID string, ttl time.Duration) (string, error)
	GetByClientID(ctx context.Context, clientID string) (string, error)
}

type credentialIssuer interface {
	Issue(clientID, roomID string) (*capability.Credential, error)
}

type publisher interface {
	Publish(ctx context.Context, channel string, msg pubsub.Message) error
}

type RoomManagerOptions struct {
	PendingTTL time.Duration
	ActiveTTL  time.Duration
	BindingTTL time.Duration
	// MaxRetries is the number of fresh identifiers tried after the first one collides.
	MaxRetries int
}

type roomManager struct {
	logger *slog.Logger

	rooms     roomRepo
	bindings  bindingRepo
	issuer    credentialIssuer
	publisher publisher

	opts RoomManagerOptions

	generateRoomID   func() (string, error)
	generateClientID func() string
}

func NewRoomManager(
	logger *slog.Logger,
	rooms roomRepo,
	bindings bindingRepo,
	issuer credentialIssuer,
	publisher publisher,
	opts RoomManagerOptions,
) RoomManager {
	return &roomManager{
		logger: logger.With("component", "room_manager"),

		rooms:     rooms,
		bindings:  bindings,
		issuer:    issuer,
		publisher: publisher,

		opts: opts,

		generateRoomID:   pkg.GenerateRoomID,
		generateClientID: pkg.GenerateClientID,
	}
}

// Allocate reserves a new room and binds the client to it. An empty client id gets an anonymous identity.
func (that *roomManager) Allocate(ctx context.Context, clientID string) (*Allocation, error) {
	if clientID == "" {
		clientID = that.generateClientID()
	}

	roomID, err := that.reserveRoom(ctx)
	if err != nil {
		return nil, err
	}

	return that.bind(ctx, clientID, roomID)
}

// Join binds the client to an existing room and refreshes the room lifetime.
func (that *roomManager) Join(ctx context.Context, clientID, roomID string) (*Allocation, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is empty: %w", apperror.ErrNotFound)
	}

	if clientID == "" {
		clientID = that.generateClientID()
	}

	found, err := that.rooms.Touch(ctx, roomID, that.opts.ActiveTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to touch room: %w", apperror.ErrUpstreamUnavailable, err)
	}

	if !found {
		return nil, fmt.Errorf("room %s: %w", roomID, apperror.ErrNotFound)
	}

	return that.bind(ctx, clientID, roomID)
}

// Resume re-joins the remembered room of the client, or allocates a new one when there is none.
func (that *roomManager) Resume(ctx context.Context, clientID string) (*Allocation, error) {
	roomID, err := that.MyRoom(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if roomID == "" {
		return that.Allocate(ctx, clientID)
	}

	allocation, err := that.Join(ctx, clientID, roomID)
	if errors.Is(err, apperror.ErrNotFound) {
		// expired between the lookup and the join
		return that.Allocate(ctx, clientID)
	}

	return allocation, err
}

// MyRoom returns the live room the client is bound to, or "". It never writes.
func (that *roomManager) MyRoom(ctx context.Context, clientID string) (string, error) {
	if clientID == "" {
		return "", nil
	}

	roomID, err := that.bindings.GetByClientID(ctx, clientID)
	if errors.Is(err, apperror.ErrNotFound) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("%w: failed to get client binding: %w", apperror.ErrUpstreamUnavailable, err)
	}

	exists, err := that.rooms.Exists(ctx, roomID)
	if err != nil {
		return "", fmt.Errorf("%w: failed to check room: %w", apperror.ErrUpstreamUnavailable, err)
	}

	if !exists {
		return "", nil
	}

	return roomID, nil
}

// Leave asks server processing to free the seat of the client in its room.
func (that *roomManager) Leave(ctx context.Context, clientID string) error {
	if clientID == "" {
		return fmt.Errorf("client id is required to leave: %w", apperror.ErrUnauthorized)
	}

	roomID, err := that.bindings.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return fmt.Errorf("client %s is not in a room: %w", clientID, err)
		}
		return fmt.Errorf("%w: failed to get client binding: %w", apperror.ErrUpstreamUnavailable, err)
	}

	if err = that.noticeLeave(ctx, clientID, roomID); err != nil {
		return fmt.Errorf("%w: %w", apperror.ErrUpstreamUnavailable, err)
	}

	return nil
}

func (that *roomManager) reserveRoom(ctx context.Context) (string, error) {
	log := that.logger.With("method", "reserveRoom")

	for attempt := 0; attempt <= that.opts.MaxRetries; attempt++ {
		roomID, err := that.generateRoomID()
		if err != nil {
			return "", fmt.Errorf("failed to generate room id: %w", err)
		}

		created, err := that.rooms.CreateIfAbsent(ctx, entity.NewRoom(roomID), that.opts.PendingTTL)
		if err != nil {
			return "", fmt.Errorf("%w: failed to create room: %w", apperror.ErrUpstreamUnavailable, err)
		}

		if created {
			return roomID, nil
		}

		log.Debug("room id collision", "roomID", roomID, "attempt", attempt)
	}

	log.Error("room id space exhausted", "attempts", that.opts.MaxRetries+1)

	return "", apperror.ErrAllocationExhausted
}

// bind points the client at roomID, tells the previous room the client has gone, and issues a credential.
func (that *roomManager) bind(ctx context.Context, clientID, roomID string) (*Allocation, error) {
	log := that.logger.With("method", "bind")

	previous, err := that.bindings.Swap(ctx, clientID, roomID, that.opts.BindingTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperror.ErrUpstreamUnavailable, err)
	}

	if previous != "" && previous != roomID {
		// the binding TTL backs this up if the notice is lost
		if err = that.noticeLeave(ctx, clientID, previous); err != nil {
			log.Warn("failed to notify previous room", "clientID", clientID, "roomID", previous, "error", err)
		}
	}

	credential, err := that.issuer.Issue(clientID, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue credential: %w", err)
	}

	return &Allocation{
		ClientID:   clientID,
		RoomID:     roomID,
		Credential: credential,
	}, nil
}

func (that *roomManager) noticeLeave(ctx context.Context, clientID, roomID string) error {
	env, err := event.EncodeIntent(event.LeaveRoom{ClientID: clientID})
	if err != nil {
		return fmt.Errorf("failed to encode leave notice: %w", err)
	}

	channel := entity.ControlChannel(roomID)
	if err = that.publisher.Publish(ctx, channel, pubsub.NewMessage(channel, clientID, env)); err != nil {
		return fmt.Errorf("failed to publish leave notice: %w", err)
	}

	return nil
}
