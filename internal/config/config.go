package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultEnvPrefix       = "SOCIALDESK_"
	DefaultHTTPAddr        = ":8080"
	DefaultJWTExpiresIn    = "24h"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "socialdesk"
	DefaultPGSSLMode       = "disable"
	DefaultStorageRoot     = "data/media"
	DefaultGraphBaseURL    = "https://graph.facebook.com"
	DefaultGraphVersion    = "v22.0"
	DefaultBrokerDriver    = "memory"
	DefaultBrokerExchange  = "socialdesk.realtime"
	DefaultSweepSpec       = "@every 5m"
	DefaultMediaMaxBytes   = 25 * 1024 * 1024
	DefaultMediaSmallBytes = 5 * 1024 * 1024
)

type Config struct {
	Log       LogConfig       `toml:"log" envPrefix:"LOG_"`
	Server    ServerConfig    `toml:"server" envPrefix:"SERVER_"`
	Auth      AuthConfig      `toml:"auth" envPrefix:"AUTH_"`
	Postgres  PostgresConfig  `toml:"postgres" envPrefix:"POSTGRES_"`
	Media     MediaConfig     `toml:"media" envPrefix:"MEDIA_"`
	Realtime  RealtimeConfig  `toml:"realtime" envPrefix:"REALTIME_"`
	Broker    BrokerConfig    `toml:"broker" envPrefix:"BROKER_"`
	Outbound  OutboundConfig  `toml:"outbound" envPrefix:"OUTBOUND_"`
	Graph     GraphConfig     `toml:"graph" envPrefix:"GRAPH_"`
	AutoReply AutoReplyConfig `toml:"auto_reply" envPrefix:"AUTO_REPLY_"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"LEVEL" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `toml:"format" env:"FORMAT" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" env:"ADDR"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret" env:"JWT_SECRET"`
	JWTExpiresIn string `toml:"jwt_expires_in" env:"JWT_EXPIRES_IN"`
}

type PostgresConfig struct {
	Host        string `toml:"host" env:"HOST"`
	Port        int    `toml:"port" env:"PORT" validate:"gt=0"`
	User        string `toml:"user" env:"USER"`
	Password    string `toml:"password" env:"PASSWORD"`
	Database    string `toml:"database" env:"DATABASE" validate:"required"`
	SSLMode     string `toml:"sslmode" env:"SSLMODE"`
	AutoMigrate bool   `toml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// DSN renders the connection string understood by pgx and golang-migrate.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type MediaConfig struct {
	StorageRoot            string `toml:"storage_root" env:"STORAGE_ROOT"`
	Workers                int    `toml:"workers" env:"WORKERS" validate:"gt=0"`
	QueueSize              int    `toml:"queue_size" env:"QUEUE_SIZE" validate:"gt=0"`
	MaxBytes               int64  `toml:"max_bytes" env:"MAX_BYTES" validate:"gt=0"`
	SmallFileBytes         int64  `toml:"small_file_bytes" env:"SMALL_FILE_BYTES" validate:"gt=0,ltfield=MaxBytes"`
	MaxAttempts            int    `toml:"max_attempts" env:"MAX_ATTEMPTS" validate:"gt=0"`
	RetryDelayMs           int    `toml:"retry_delay_ms" env:"RETRY_DELAY_MS" validate:"gte=0"`
	StaleAfterMinutes      int    `toml:"stale_after_minutes" env:"STALE_AFTER_MINUTES" validate:"gt=0"`
	ProbeTimeoutSeconds    int    `toml:"probe_timeout_seconds" env:"PROBE_TIMEOUT_SECONDS" validate:"gt=0"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds" env:"DOWNLOAD_TIMEOUT_SECONDS" validate:"gt=0"`
	SweepSpec              string `toml:"sweep_spec" env:"SWEEP_SPEC"`
}

func (c MediaConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

type RealtimeConfig struct {
	HeartbeatIntervalSeconds int      `toml:"heartbeat_interval_seconds" env:"HEARTBEAT_INTERVAL_SECONDS" validate:"gt=0"`
	HeartbeatTimeoutSeconds  int      `toml:"heartbeat_timeout_seconds" env:"HEARTBEAT_TIMEOUT_SECONDS" validate:"gtfield=HeartbeatIntervalSeconds"`
	SendBuffer               int      `toml:"send_buffer" env:"SEND_BUFFER" validate:"gt=0"`
	AllowedOrigins           []string `toml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

type BrokerConfig struct {
	Driver   string `toml:"driver" env:"DRIVER" validate:"oneof=memory amqp"`
	URL      string `toml:"url" env:"URL" validate:"required_if=Driver amqp"`
	Exchange string `toml:"exchange" env:"EXCHANGE"`
}

type OutboundConfig struct {
	RetryMax       int `toml:"retry_max" env:"RETRY_MAX" validate:"gte=0"`
	RetryBackoffMs int `toml:"retry_backoff_ms" env:"RETRY_BACKOFF_MS" validate:"gte=0"`
}

type GraphConfig struct {
	BaseURL        string `toml:"base_url" env:"BASE_URL" validate:"required,url"`
	Version        string `toml:"version" env:"VERSION" validate:"required"`
	TimeoutSeconds int    `toml:"timeout_seconds" env:"TIMEOUT_SECONDS" validate:"gt=0"`
}

type AutoReplyConfig struct {
	GeneratorURL   string `toml:"generator_url" env:"GENERATOR_URL" validate:"omitempty,url"`
	RepliesPath    string `toml:"replies_path" env:"REPLIES_PATH"`
	Workers        int    `toml:"workers" env:"WORKERS" validate:"gt=0"`
	QueueSize      int    `toml:"queue_size" env:"QUEUE_SIZE" validate:"gt=0"`
	TimeoutSeconds int    `toml:"timeout_seconds" env:"TIMEOUT_SECONDS" validate:"gt=0"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:        DefaultPGHost,
			Port:        DefaultPGPort,
			User:        DefaultPGUser,
			Database:    DefaultPGDatabase,
			SSLMode:     DefaultPGSSLMode,
			AutoMigrate: true,
		},
		Media: MediaConfig{
			StorageRoot:            DefaultStorageRoot,
			Workers:                4,
			QueueSize:              256,
			MaxBytes:               DefaultMediaMaxBytes,
			SmallFileBytes:         DefaultMediaSmallBytes,
			MaxAttempts:            3,
			RetryDelayMs:           1000,
			StaleAfterMinutes:      60,
			ProbeTimeoutSeconds:    5,
			DownloadTimeoutSeconds: 30,
			SweepSpec:              DefaultSweepSpec,
		},
		Realtime: RealtimeConfig{
			HeartbeatIntervalSeconds: 30,
			HeartbeatTimeoutSeconds:  40,
			SendBuffer:               64,
		},
		Broker: BrokerConfig{
			Driver:   DefaultBrokerDriver,
			Exchange: DefaultBrokerExchange,
		},
		Outbound: OutboundConfig{
			RetryMax:       3,
			RetryBackoffMs: 500,
		},
		Graph: GraphConfig{
			BaseURL:        DefaultGraphBaseURL,
			Version:        DefaultGraphVersion,
			TimeoutSeconds: 10,
		},
		AutoReply: AutoReplyConfig{
			Workers:        4,
			QueueSize:      256,
			TimeoutSeconds: 20,
		},
	}
}

// Load reads the TOML file at path on top of Defaults, applies SOCIALDESK_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: DefaultEnvPrefix}); err != nil {
		return cfg, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints declared on the config structs.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
