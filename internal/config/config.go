package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jason-s-yu/lobbyd/internal/auth"
	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds the server configuration. Every field maps to an environment variable of the
// same name; a .env style file may supply them too.
type Config struct {
	Port      int    `mapstructure:"PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	MaxPlayers     int           `mapstructure:"MAX_PLAYERS"`
	GameMode       string        `mapstructure:"GAME_MODE"`
	ReapInterval   time.Duration `mapstructure:"REAP_INTERVAL"`
	LobbyMaxAge    time.Duration `mapstructure:"LOBBY_MAX_AGE"`
	AllowedOrigins []string      `mapstructure:"ALLOWED_ORIGINS"`

	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	RedisDB     int    `mapstructure:"REDIS_DB"`
	RedisQueue  string `mapstructure:"REDIS_QUEUE"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	HistorianBatchSize  int           `mapstructure:"HISTORIAN_BATCH_SIZE"`
	HistorianFlushDelay time.Duration `mapstructure:"HISTORIAN_FLUSH_DELAY"`

	MonitorAuth     bool   `mapstructure:"MONITOR_AUTH"`
	TokenExpireTime string `mapstructure:"TOKEN_EXPIRE_TIME"`
	JWTPrivateKey   string `mapstructure:"JWT_PRIVATE_KEY_PATH"`
	JWTPublicKey    string `mapstructure:"JWT_PUBLIC_KEY_PATH"`
}

var defaults = map[string]any{
	"PORT":                  3000,
	"LOG_LEVEL":             "info",
	"LOG_FORMAT":            "text",
	"MAX_PLAYERS":           lobby.DefaultMaxPlayers,
	"GAME_MODE":             lobby.DefaultGameMode,
	"REAP_INTERVAL":         lobby.DefaultReapInterval,
	"LOBBY_MAX_AGE":         lobby.DefaultMaxIdle,
	"ALLOWED_ORIGINS":       []string{"*"},
	"REDIS_ADDR":            "",
	"REDIS_DB":              0,
	"REDIS_QUEUE":           "lobby_activity",
	"DATABASE_URL":          "",
	"HISTORIAN_BATCH_SIZE":  20,
	"HISTORIAN_FLUSH_DELAY": 500 * time.Millisecond,
	"MONITOR_AUTH":          false,
	"TOKEN_EXPIRE_TIME":     "never",
	"JWT_PRIVATE_KEY_PATH":  "",
	"JWT_PUBLIC_KEY_PATH":   "",
}

// Load reads configuration from the environment, optionally layered over an env file.
// A missing file at path is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.MaxPlayers < 2 {
		return fmt.Errorf("MAX_PLAYERS must be at least 2, got %d", c.MaxPlayers)
	}
	if c.ReapInterval <= 0 || c.LobbyMaxAge <= 0 {
		return fmt.Errorf("REAP_INTERVAL and LOBBY_MAX_AGE must be positive")
	}
	if c.HistorianBatchSize <= 0 || c.HistorianFlushDelay <= 0 {
		return fmt.Errorf("HISTORIAN_BATCH_SIZE and HISTORIAN_FLUSH_DELAY must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if _, err := auth.ParseExpiry(c.TokenExpireTime); err != nil {
		return fmt.Errorf("TOKEN_EXPIRE_TIME: %w", err)
	}
	if (c.JWTPrivateKey == "") != (c.JWTPublicKey == "") {
		return fmt.Errorf("JWT_PRIVATE_KEY_PATH and JWT_PUBLIC_KEY_PATH must be set together")
	}
	return nil
}

// Settings are the lobby settings new lobbies start with.
func (c *Config) Settings() lobby.Settings {
	return lobby.Settings{MaxPlayers: c.MaxPlayers, GameMode: c.GameMode}
}

// TokenExpiry is TOKEN_EXPIRE_TIME as a duration. Zero means never.
func (c *Config) TokenExpiry() time.Duration {
	d, _ := auth.ParseExpiry(c.TokenExpireTime)
	return d
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
