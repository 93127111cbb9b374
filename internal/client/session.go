package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/capability"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/event"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/transport/pubsub"
)

var ErrSessionClosed = errors.New("session closed")

type conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Session is one participant's connection to a room through the gateway. Incoming events are
// applied on the goroutine running Run, one at a time and in arrival order.
type Session struct {
	logger *slog.Logger
	conn   conn

	clientID string
	roomID   string

	onChange func(Snapshot)

	mu       sync.RWMutex
	snapshot Snapshot

	writeMu sync.Mutex
	closed  bool
}

// Dial connects to the gateway with the credential and returns a started session.
func Dial(
	ctx context.Context,
	logger *slog.Logger,
	gatewayURL string,
	credential *capability.Credential,
	onChange func(Snapshot),
) (*Session, error) {
	target, err := url.Parse(gatewayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}

	query := target.Query()
	query.Set("token", credential.Token)
	target.RawQuery = query.Encode()

	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}

	session := NewSession(logger, wsConn, credential.ClientID, credential.RoomID, onChange)
	if err = session.Start(); err != nil {
		_ = wsConn.Close()
		return nil, err
	}

	return session, nil
}

func NewSession(logger *slog.Logger, conn conn, clientID, roomID string, onChange func(Snapshot)) *Session {
	return &Session{
		logger:   logger.With("component", "session", "clientID", clientID, "roomID", roomID),
		conn:     conn,
		clientID: clientID,
		roomID:   roomID,
		onChange: onChange,
		snapshot: NewSnapshot(roomID),
	}
}

// Start subscribes to the broadcast channel and enters presence on the control channel.
func (that *Session) Start() error {
	if err := that.write(pubsub.Message{
		Action:  pubsub.ActionSubscribe,
		Channel: entity.BroadcastChannel(that.roomID),
	}); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	if err := that.write(pubsub.Message{
		Action:  pubsub.ActionPresenceEnter,
		Channel: entity.ControlChannel(that.roomID),
	}); err != nil {
		return fmt.Errorf("failed to enter presence: %w", err)
	}

	return nil
}

// Run reads from the gateway until the connection fails or ctx is done.
func (that *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = that.conn.Close()
	})
	defer stop()

	for {
		var msg pubsub.Message
		if err := that.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read from gateway: %w", err)
		}

		that.handle(msg)
	}
}

func (that *Session) handle(msg pubsub.Message) {
	log := that.logger.With("method", "handle")

	switch msg.Action {
	case pubsub.ActionMessage:
	case pubsub.ActionError:
		log.Warn("gateway refused a request", "error", msg.Error, "channel", msg.Channel)
		return
	default:
		return
	}

	if msg.Channel != entity.BroadcastChannel(that.roomID) {
		return
	}

	e, err := event.Decode(msg.Envelope())
	if err != nil {
		log.Debug("dropping malformed event", "name", msg.Name, "error", err)
		return
	}

	that.mu.Lock()
	next, applied := Apply(that.snapshot, e)
	that.snapshot = next
	that.mu.Unlock()

	if !applied {
		log.Debug("event had no effect", "name", e.Name())
		return
	}

	if that.onChange != nil {
		that.onChange(next.Clone())
	}
}

func (that *Session) Snapshot() Snapshot {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return that.snapshot.Clone()
}

func (that *Session) ClientID() string {
	return that.clientID
}

func (that *Session) RoomID() string {
	return that.roomID
}

// CheckBox asks server processing to check a box. The board only changes once the server
// announces PLAYER_CHECKED_BOX.
func (that *Session) CheckBox(box int) error {
	return that.publish(event.CheckBox{Box: box})
}

func (that *Session) StartGame() error {
	return that.publish(event.StartGame{})
}

func (that *Session) Leave() error {
	return that.publish(event.LeaveRoom{ClientID: that.clientID})
}

// Close leaves presence and closes the connection.
func (that *Session) Close() error {
	leaveErr := that.write(pubsub.Message{
		Action:  pubsub.ActionPresenceLeave,
		Channel: entity.ControlChannel(that.roomID),
	})

	that.writeMu.Lock()
	that.closed = true
	that.writeMu.Unlock()

	if err := that.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	if leaveErr != nil && !errors.Is(leaveErr, ErrSessionClosed) {
		return leaveErr
	}

	return nil
}

func (that *Session) publish(intent event.Intent) error {
	env, err := event.EncodeIntent(intent)
	if err != nil {
		return fmt.Errorf("failed to encode intent: %w", err)
	}

	msg := pubsub.NewMessage(entity.ControlChannel(that.roomID), that.clientID, env)
	msg.Action = pubsub.ActionPublish

	return that.write(msg)
}

func (that *Session) write(msg pubsub.Message) error {
	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	if that.closed {
		return ErrSessionClosed
	}

	if err := that.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to gateway: %w", err)
	}

	return nil
}
