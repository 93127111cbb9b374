package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/capability"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/config"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/transport/pubsub"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/worker"
	"github.com/rocketscienceinc/tictactoe-rooms/transport/rest"
	"github.com/rocketscienceinc/tictactoe-rooms/transport/websocket"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the HTTP API, the realtime gateway and room processing until a signal arrives
// or one of them fails.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return ErrAddrNotFound
	}

	redisStorage, err := storage.New(ctx, redisAddrString, conf.Redis.Password, conf.Redis.DB)
	if err != nil {
		return fmt.Errorf("could not connect to redis storage: %w", err)
	}

	defer func() {
		if err = redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}()

	roomRepo := repository.NewRoomRepository(redisStorage)
	bindingRepo := repository.NewBindingRepository(redisStorage)
	broker := pubsub.NewBroker(logger, redisStorage)
	issuer := capability.NewIssuer(conf.Capability.SecretKey, conf.Capability.Issuer)

	roomManager := usecase.NewRoomManager(logger, roomRepo, bindingRepo, issuer, broker, usecase.RoomManagerOptions{
		PendingTTL: conf.Rooms.PendingTTL,
		ActiveTTL:  conf.Rooms.ActiveTTL,
		BindingTTL: conf.Rooms.BindingTTL,
		MaxRetries: conf.Rooms.MaxRetries,
	})

	processor := worker.NewProcessor(logger, roomRepo, bindingRepo, broker, broker, worker.Options{
		ActiveTTL:      conf.Rooms.ActiveTTL,
		FinishingDelay: conf.Rooms.FinishingDelay,
		SweepInterval:  conf.Rooms.SweepInterval,
		PresenceGrace:  conf.Presence.Grace,
	})

	gateway := websocket.New(logger, issuer, broker, websocket.Options{
		Heartbeat:    conf.Presence.Heartbeat,
		PublishRate:  conf.Gateway.PublishRate,
		PublishBurst: conf.Gateway.PublishBurst,
	})

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if err := rest.Start(ctx, conf.HTTPPort, rest.NewRouter(logger, roomManager)); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		if err := gateway.Start(ctx, conf.SocketPort); err != nil {
			return fmt.Errorf("WebSocket server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		if err := processor.Run(ctx, broker); err != nil {
			return fmt.Errorf("room processing error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return processor.RunSweeper(ctx)
	})

	err = group.Wait()

	log.Info("Application stopped", "error", err)

	return err //nolint: wrapcheck // each goroutine wraps its own error
}
