package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"dev"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// An empty MongoURI runs every store in memory.
	MongoURI string `env:"MONGO_URI"`
	MongoDB  string `env:"MONGO_DB" envDefault:"petadopt"`

	AccessTokenSecret string        `env:"ACCESS_TOKEN_SECRET"`
	AuthVerifyTimeout time.Duration `env:"AUTH_VERIFY_TIMEOUT" envDefault:"5s"`
	CORSOrigins       []string      `env:"CORS_ORIGIN" envDefault:"http://localhost:5173,http://127.0.0.1:5173" envSeparator:","`

	// Without brokers chat events stay on this instance.
	KafkaBrokers       []string        `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopicPrefix   string          `env:"KAFKA_TOPIC_PREFIX"`
	OutboxPollInterval time.Duration   `env:"OUTBOX_POLL_INTERVAL" envDefault:"500ms"`
	RetryBackoff       []time.Duration `env:"RETRY_BACKOFF" envDefault:"1s,5s,30s" envSeparator:","`
	InstanceID         string          `env:"INSTANCE_ID"`

	S3Endpoint   string        `env:"S3_ENDPOINT" envDefault:"localhost:9000"`
	S3AccessKey  string        `env:"S3_ACCESS_KEY"`
	S3SecretKey  string        `env:"S3_SECRET_KEY"`
	S3Bucket     string        `env:"S3_BUCKET"`
	S3UseSSL     bool          `env:"S3_USE_SSL" envDefault:"false"`
	S3PresignTTL time.Duration `env:"S3_PRESIGN_TTL" envDefault:"15m"`

	ProfileCacheSize int           `env:"PROFILE_CACHE_SIZE" envDefault:"1024"`
	IdempotencyTTL   time.Duration `env:"IDEMP_TTL" envDefault:"168h"`
	WSSendQueue      int           `env:"WS_SEND_QUEUE" envDefault:"64"`
}

// Load reads optional .env files and parses configuration from the current environment.
// Variables already set in the environment win over .env values.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return parse(env.Options{})
}

// FromMap parses configuration from an explicit variable set.
func FromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.MongoURI = strings.TrimSpace(c.MongoURI)
	c.S3Bucket = strings.TrimSpace(c.S3Bucket)
	c.S3Endpoint = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(c.S3Endpoint), "https://"), "http://")
	c.KafkaBrokers = compact(c.KafkaBrokers)
	c.CORSOrigins = compact(c.CORSOrigins)
	if strings.TrimSpace(c.InstanceID) == "" {
		c.InstanceID = uuid.NewString()
	}
	if c.WSSendQueue <= 0 {
		c.WSSendQueue = 64
	}
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AccessTokenSecret) == "" {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET is required"))
	}
	if c.AuthVerifyTimeout <= 0 {
		errs = append(errs, errors.New("AUTH_VERIFY_TIMEOUT must be positive"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_POLL_INTERVAL must be positive"))
	}
	if len(c.KafkaBrokers) > 0 && c.MongoURI == "" {
		errs = append(errs, errors.New("KAFKA_BROKERS requires MONGO_URI for the outbox"))
	}
	return errors.Join(errs...)
}

func (c Config) UseMongo() bool { return c.MongoURI != "" }

func (c Config) UseKafka() bool { return len(c.KafkaBrokers) > 0 }

// PresignEnabled reports whether attachment URLs can be signed against the bucket.
func (c Config) PresignEnabled() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c Config) IsDev() bool {
	return c.Env == "dev" || c.Env == "local"
}

func compact(items []string) []string {
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
