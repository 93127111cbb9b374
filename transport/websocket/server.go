// Package websocket is the realtime gateway. It lets credential holders reach the pub/sub channels
// of exactly one room and nothing else.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/capability"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/transport/pubsub"
)

const shutdownTimeout = 5 * time.Second

type verifier interface {
	Verify(token string) (*capability.Grant, error)
}

type broker interface {
	Publish(ctx context.Context, channel string, msg pubsub.Message) error
	Subscribe(ctx context.Context, channels ...string) (*pubsub.Subscription, error)

	Enter(ctx context.Context, channel, clientID string) error
	Heartbeat(ctx context.Context, channel, clientID string) error
	Leave(ctx context.Context, channel, clientID string) error
}

type Options struct {
	// Heartbeat is how often presence is refreshed and the client pinged.
	Heartbeat    time.Duration
	PublishRate  float64
	PublishBurst int
}

type handler func(ctx context.Context, conn *connection, msg pubsub.Message) error

type Server struct {
	logger   *slog.Logger
	verifier verifier
	broker   broker
	opts     Options

	upgrader websocket.Upgrader
	handlers map[string]handler
}

func New(logger *slog.Logger, verifier verifier, broker broker, opts Options) *Server {
	server := &Server{
		logger:   logger.With("component", "gateway"),
		verifier: verifier,
		broker:   broker,
		opts:     opts,

		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// credentials, not origins, decide what a connection may do
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	server.handlers = map[string]handler{
		pubsub.ActionSubscribe:     server.handleSubscribe,
		pubsub.ActionPublish:       server.handlePublish,
		pubsub.ActionPresenceEnter: server.handleEnter,
		pubsub.ActionPresenceLeave: server.handleLeave,
	}

	return server
}

// Start serves the gateway on /ws until ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", that)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// ServeHTTP verifies the credential in the token query parameter and upgrades the connection.
func (that *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "ServeHTTP")

	grant, err := that.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		log.Debug("credential rejected", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	socket, err := that.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", "error", err)
		return
	}

	conn := newConnection(that, grant, socket)

	log.Info("connection established", "clientID", grant.ClientID, "roomID", grant.RoomID)

	conn.serve(r.Context())

	log.Info("connection closed", "clientID", grant.ClientID, "roomID", grant.RoomID)
}
