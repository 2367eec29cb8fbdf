package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is loaded from the environment, with .env support for local runs.
// Defaults mirror a single-host deployment: one hour of room life, a sweep
// every minute, 2000-character messages, 20MiB uploads.
type Config struct {
	Host             string        `envconfig:"HOST" default:"0.0.0.0"`
	Port             string        `envconfig:"PORT" default:"3000"`
	PublicBaseURL    string        `envconfig:"PUBLIC_BASE_URL"`
	PublicDir        string        `envconfig:"PUBLIC_DIR" default:"public"`
	UploadsDir       string        `envconfig:"UPLOADS_DIR" default:"uploads"`
	MaxMessageLength int           `envconfig:"MAX_MESSAGE_LENGTH" default:"2000"`
	MaxFileSize      int64         `envconfig:"MAX_FILE_SIZE" default:"20971520"`
	RoomTTL          time.Duration `envconfig:"ROOM_TTL" default:"1h"`
	SweepInterval    time.Duration `envconfig:"ROOM_SWEEP_INTERVAL" default:"1m"`
	AMQPURL          string        `envconfig:"AMQP_URL"`
	AuditExchange    string        `envconfig:"AUDIT_EXCHANGE" default:"duochat.audit"`
	Environment      string        `envconfig:"ENVIRONMENT" default:"dev"`
	OTLPEndpoint     string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Debug            bool          `envconfig:"DEBUG"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
