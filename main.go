package main

import (
	"log/slog"
	"os"

	app "github.com/rocketscienceinc/tictactoe-rooms/internal"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/config"
)

func main() {
	conf := config.MustLoad(config.Path())

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: conf.SlogLevel()}))
	logger.Info("starting tictactoe-rooms",
		"http-port", conf.HTTPPort,
		"socket-port", conf.SocketPort,
		"redis", conf.Redis.GetRedisAddr(),
	)

	if err := app.RunApp(logger, conf); err != nil {
		logger.Error("app run failed", "error", err)
		os.Exit(1)
	}
}
