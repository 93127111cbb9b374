package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	pathEnv     = "CONFIG_PATH"
	defaultPath = "config.yml"
)

type Config struct {
	LogLevel   string     `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort   string     `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort string     `yaml:"socket-port" env:"SOCKET_PORT" env-default:"9091"`
	Redis      Redis      `yaml:"redis"`
	Rooms      Rooms      `yaml:"rooms"`
	Capability Capability `yaml:"capability"`
	Presence   Presence   `yaml:"presence"`
	Gateway    Gateway    `yaml:"gateway"`
}

type Redis struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Rooms holds the lifetimes of room records and client bindings.
type Rooms struct {
	// PendingTTL is the grace window a freshly allocated room has before its host joins.
	PendingTTL time.Duration `yaml:"pending-ttl" env:"ROOMS_PENDING_TTL" env-default:"60s"`
	// ActiveTTL is set again on every successful join and every room write.
	ActiveTTL      time.Duration `yaml:"active-ttl" env:"ROOMS_ACTIVE_TTL" env-default:"1h"`
	BindingTTL     time.Duration `yaml:"binding-ttl" env:"ROOMS_BINDING_TTL" env-default:"30m"`
	MaxRetries     int           `yaml:"max-retries" env:"ROOMS_MAX_RETRIES" env-default:"5"`
	FinishingDelay time.Duration `yaml:"finishing-delay" env:"ROOMS_FINISHING_DELAY" env-default:"5s"`
	SweepInterval  time.Duration `yaml:"sweep-interval" env:"ROOMS_SWEEP_INTERVAL" env-default:"1s"`
}

type Capability struct {
	SecretKey string `yaml:"secret-key" env:"CAPABILITY_SECRET_KEY" env-required:"true"`
	Issuer    string `yaml:"issuer" env:"CAPABILITY_ISSUER" env-default:"tictactoe-rooms"`
}

type Presence struct {
	Grace     time.Duration `yaml:"grace" env:"PRESENCE_GRACE" env-default:"15s"`
	Heartbeat time.Duration `yaml:"heartbeat" env:"PRESENCE_HEARTBEAT" env-default:"5s"`
}

type Gateway struct {
	PublishRate  float64 `yaml:"publish-rate" env:"GATEWAY_PUBLISH_RATE" env-default:"10"`
	PublishBurst int     `yaml:"publish-burst" env:"GATEWAY_PUBLISH_BURST" env-default:"20"`
}

// Path returns the config file named by CONFIG_PATH, or config.yml in the working directory.
func Path() string {
	if path := os.Getenv(pathEnv); path != "" {
		return path
	}

	return defaultPath
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}

// SlogLevel maps log-level to a slog level. Unknown values fall back to info.
func (that *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(that.LogLevel)); err != nil {
		return slog.LevelInfo
	}

	return level
}
