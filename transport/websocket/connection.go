package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/capability"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/transport/pubsub"
)

const (
	writeWait     = 10 * time.Second
	cleanupWait   = 5 * time.Second
	outboxSize    = 256
	maxFrameBytes = 1 << 14
)

// connection is one client socket. Only writePump writes to the socket.
type connection struct {
	server *Server
	logger *slog.Logger
	grant  *capability.Grant
	socket *websocket.Conn

	limiter *rate.Limiter
	outbox  chan pubsub.Message

	mu           sync.Mutex
	subscription *pubsub.Subscription
	present      map[string]struct{}
}

func newConnection(server *Server, grant *capability.Grant, socket *websocket.Conn) *connection {
	return &connection{
		server: server,
		logger: server.logger.With("clientID", grant.ClientID, "roomID", grant.RoomID),
		grant:  grant,
		socket: socket,

		limiter: rate.NewLimiter(rate.Limit(server.opts.PublishRate), server.opts.PublishBurst),
		outbox:  make(chan pubsub.Message, outboxSize),

		present: make(map[string]struct{}),
	}
}

// serve runs the connection until the client goes away or ctx is done.
func (that *connection) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		that.writePump(ctx)
	}()

	go func() {
		defer wg.Done()
		that.heartbeat(ctx)
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = that.socket.Close()
	})
	defer stop()

	that.readPump(ctx)

	cancel()
	wg.Wait()

	that.cleanup()
}

func (that *connection) readPump(ctx context.Context) {
	log := that.logger.With("method", "readPump")

	pongWait := 3 * that.server.opts.Heartbeat

	that.socket.SetReadLimit(maxFrameBytes)
	_ = that.socket.SetReadDeadline(time.Now().Add(pongWait))
	that.socket.SetPongHandler(func(string) error {
		return that.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := that.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("connection lost", "error", err)
			}
			return
		}

		// any traffic counts as a sign of life
		_ = that.socket.SetReadDeadline(time.Now().Add(pongWait))

		var msg pubsub.Message
		if err = json.Unmarshal(data, &msg); err != nil {
			that.reject(ctx, msg, "malformed frame")
			continue
		}

		handle, ok := that.server.handlers[msg.Action]
		if !ok {
			that.reject(ctx, msg, "unknown action")
			continue
		}

		if err = handle(ctx, that, msg); err != nil {
			log.Debug("request refused", "action", msg.Action, "channel", msg.Channel, "error", err)
			that.reject(ctx, msg, err.Error())
		}
	}
}

func (that *connection) writePump(ctx context.Context) {
	log := that.logger.With("method", "writePump")

	ticker := time.NewTicker(that.server.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = that.socket.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		case msg := <-that.outbox:
			_ = that.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := that.socket.WriteJSON(msg); err != nil {
				log.Debug("failed to write frame", "error", err)
				return
			}
		case <-ticker.C:
			if err := that.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug("failed to ping", "error", err)
				return
			}
		}
	}
}

// heartbeat keeps the presence of the client fresh on every channel it entered.
func (that *connection) heartbeat(ctx context.Context) {
	log := that.logger.With("method", "heartbeat")

	ticker := time.NewTicker(that.server.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, channel := range that.presentChannels() {
				if err := that.server.broker.Heartbeat(ctx, channel, that.grant.ClientID); err != nil {
					log.Warn("failed to refresh presence", "channel", channel, "error", err)
				}
			}
		}
	}
}

// send queues a frame for the client. It gives up when the connection is going away.
func (that *connection) send(ctx context.Context, msg pubsub.Message) {
	select {
	case that.outbox <- msg:
	case <-ctx.Done():
	}
}

func (that *connection) reject(ctx context.Context, request pubsub.Message, reason string) {
	that.send(ctx, pubsub.Message{
		Action:  pubsub.ActionError,
		Channel: request.Channel,
		Name:    request.Name,
		Error:   reason,
	})
}

// subscribe adds the channel to the single subscription of this connection.
func (that *connection) subscribe(ctx context.Context, channel string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.subscription != nil {
		return that.subscription.Add(ctx, channel) //nolint: wrapcheck // already wrapped by pubsub
	}

	subscription, err := that.server.broker.Subscribe(ctx, channel)
	if err != nil {
		return err //nolint: wrapcheck // already wrapped by pubsub
	}

	that.subscription = subscription

	go that.forward(ctx, subscription)

	return nil
}

func (that *connection) forward(ctx context.Context, subscription *pubsub.Subscription) {
	for msg := range subscription.Messages() {
		that.send(ctx, msg)
	}
}

func (that *connection) enter(channel string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.present[channel] = struct{}{}
}

func (that *connection) leave(channel string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.present, channel)
}

func (that *connection) presentChannels() []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	channels := make([]string, 0, len(that.present))
	for channel := range that.present {
		channels = append(channels, channel)
	}

	return channels
}

// cleanup leaves presence and drops the subscription once the socket is gone.
func (that *connection) cleanup() {
	log := that.logger.With("method", "cleanup")

	ctx, cancel := context.WithTimeout(context.Background(), cleanupWait)
	defer cancel()

	for _, channel := range that.presentChannels() {
		if err := that.server.broker.Leave(ctx, channel, that.grant.ClientID); err != nil {
			log.Warn("failed to leave presence", "channel", channel, "error", err)
		}
	}

	that.mu.Lock()
	subscription := that.subscription
	that.subscription = nil
	that.mu.Unlock()

	if subscription != nil {
		if err := subscription.Close(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("failed to close subscription", "error", err)
		}
	}
}
