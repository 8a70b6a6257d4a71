// Package config loads runtime settings from an optional .env file, an
// optional TOML file and CRATES_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// MemoryDatabase selects the in-memory store instead of PostgreSQL.
const MemoryDatabase = "memory"

const masked = "****"

type Config struct {
	DatabaseURL string `toml:"database_url"` // CRATES_DATABASE_URL (required)
	HTTPAddr    string `toml:"http_addr"`    // CRATES_HTTP_ADDR (default ":8080")
	GRPCAddr    string `toml:"grpc_addr"`    // CRATES_GRPC_ADDR (default ":9090")
	LogFormat   string `toml:"log_format"`   // CRATES_LOG_FORMAT ("text" or "json")
	AuthToken   string `toml:"auth_token"`   // CRATES_AUTH_TOKEN (optional, empty = auth disabled)

	Broker   Broker   `toml:"broker"`
	Outbox   Outbox   `toml:"outbox"`
	Discogs  Discogs  `toml:"discogs"`
	Redis    Redis    `toml:"redis"`
	Activity Activity `toml:"activity"`
	Archive  Archive  `toml:"archive"`
}

type Broker struct {
	Kind        string `toml:"kind"`         // CRATES_BROKER ("stomp", "mqtt", "nats", "noop")
	URL         string `toml:"url"`          // CRATES_BROKER_URL
	Login       string `toml:"login"`        // CRATES_BROKER_LOGIN
	Passcode    string `toml:"passcode"`     // CRATES_BROKER_PASSCODE
	ClientID    string `toml:"client_id"`    // CRATES_BROKER_CLIENT_ID (default "crates")
	TopicPrefix string `toml:"topic_prefix"` // CRATES_BROKER_TOPIC_PREFIX (MQTT only)
}

type Outbox struct {
	BatchSize     int           `toml:"batch_size"`     // CRATES_OUTBOX_BATCH_SIZE (default 100)
	BusyInterval  time.Duration `toml:"busy_interval"`  // CRATES_OUTBOX_BUSY_INTERVAL (default 1s)
	IdleInterval  time.Duration `toml:"idle_interval"`  // CRATES_OUTBOX_IDLE_INTERVAL (default 5s)
	CleanupEvery  int           `toml:"cleanup_every"`  // CRATES_OUTBOX_CLEANUP_EVERY (default 100; 0 = disabled)
	RetentionDays int           `toml:"retention_days"` // CRATES_OUTBOX_RETENTION_DAYS (default 7)
	Claim         bool          `toml:"claim"`          // CRATES_OUTBOX_CLAIM (default false)
}

type Discogs struct {
	BaseURL           string        `toml:"base_url"`            // CRATES_DISCOGS_URL
	Token             string        `toml:"token"`               // CRATES_DISCOGS_TOKEN
	UserAgent         string        `toml:"user_agent"`          // CRATES_DISCOGS_USER_AGENT
	RequestsPerMinute int           `toml:"requests_per_minute"` // CRATES_DISCOGS_RATE (default 60; 0 = unlimited)
	Backoff           time.Duration `toml:"backoff"`             // CRATES_DISCOGS_BACKOFF (default 60s)
	PerPage           int           `toml:"per_page"`            // CRATES_DISCOGS_PER_PAGE (default 100)
}

type Redis struct {
	Addr      string        `toml:"addr"`       // CRATES_REDIS_ADDR (empty = no cache, no dedupe)
	Password  string        `toml:"password"`   // CRATES_REDIS_PASSWORD
	DB        int           `toml:"db"`         // CRATES_REDIS_DB
	DedupeTTL time.Duration `toml:"dedupe_ttl"` // CRATES_REDIS_DEDUPE_TTL (default 168h)
}

type Activity struct {
	PushURL  string `toml:"push_url"`  // CRATES_ACTIVITY_PUSH_URL
	Secret   string `toml:"secret"`    // CRATES_ACTIVITY_SECRET
	RingSize int    `toml:"ring_size"` // CRATES_ACTIVITY_RING_SIZE (default 500)
}

type Archive struct {
	S3Bucket   string `toml:"s3_bucket"`   // CRATES_ARCHIVE_S3_BUCKET (enables S3 when set)
	S3Region   string `toml:"s3_region"`   // CRATES_ARCHIVE_S3_REGION (default "us-east-1")
	S3Endpoint string `toml:"s3_endpoint"` // CRATES_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	Dir        string `toml:"dir"`         // CRATES_ARCHIVE_DIR (enables a local directory when set)
	Prefix     string `toml:"prefix"`      // CRATES_ARCHIVE_PREFIX (default "crates/outbox")
}

// Enabled reports whether any archive destination is configured.
func (a Archive) Enabled() bool { return a.S3Bucket != "" || a.Dir != "" }

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		HTTPAddr:  ":8080",
		GRPCAddr:  ":9090",
		LogFormat: "text",
		Broker:    Broker{Kind: "noop", ClientID: "crates"},
		Outbox: Outbox{
			BatchSize:     100,
			BusyInterval:  time.Second,
			IdleInterval:  5 * time.Second,
			CleanupEvery:  100,
			RetentionDays: 7,
		},
		Discogs: Discogs{
			BaseURL:           "https://api.discogs.com",
			UserAgent:         "crates/1.0",
			RequestsPerMinute: 60,
			Backoff:           60 * time.Second,
			PerPage:           100,
		},
		Redis:    Redis{DedupeTTL: 7 * 24 * time.Hour},
		Activity: Activity{PushURL: "http://localhost:8080/internal/activity/push", RingSize: 500},
		Archive:  Archive{S3Region: "us-east-1", Prefix: "crates/outbox"},
	}
}

// Load builds the configuration. A missing .env is ignored; a missing file
// named by CRATES_CONFIG is an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	c := Default()
	if path := os.Getenv("CRATES_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	envString(&c.DatabaseURL, "CRATES_DATABASE_URL")
	envString(&c.HTTPAddr, "CRATES_HTTP_ADDR")
	envString(&c.GRPCAddr, "CRATES_GRPC_ADDR")
	envString(&c.LogFormat, "CRATES_LOG_FORMAT")
	envString(&c.AuthToken, "CRATES_AUTH_TOKEN")

	envString(&c.Broker.Kind, "CRATES_BROKER")
	envString(&c.Broker.URL, "CRATES_BROKER_URL")
	envString(&c.Broker.Login, "CRATES_BROKER_LOGIN")
	envString(&c.Broker.Passcode, "CRATES_BROKER_PASSCODE")
	envString(&c.Broker.ClientID, "CRATES_BROKER_CLIENT_ID")
	envString(&c.Broker.TopicPrefix, "CRATES_BROKER_TOPIC_PREFIX")

	envString(&c.Discogs.BaseURL, "CRATES_DISCOGS_URL")
	envString(&c.Discogs.Token, "CRATES_DISCOGS_TOKEN")
	envString(&c.Discogs.UserAgent, "CRATES_DISCOGS_USER_AGENT")

	envString(&c.Redis.Addr, "CRATES_REDIS_ADDR")
	envString(&c.Redis.Password, "CRATES_REDIS_PASSWORD")

	envString(&c.Activity.PushURL, "CRATES_ACTIVITY_PUSH_URL")
	envString(&c.Activity.Secret, "CRATES_ACTIVITY_SECRET")

	envString(&c.Archive.S3Bucket, "CRATES_ARCHIVE_S3_BUCKET")
	envString(&c.Archive.S3Region, "CRATES_ARCHIVE_S3_REGION")
	envString(&c.Archive.S3Endpoint, "CRATES_ARCHIVE_S3_ENDPOINT")
	envString(&c.Archive.Dir, "CRATES_ARCHIVE_DIR")
	envString(&c.Archive.Prefix, "CRATES_ARCHIVE_PREFIX")

	return errors.Join(
		envInt(&c.Outbox.BatchSize, "CRATES_OUTBOX_BATCH_SIZE"),
		envDuration(&c.Outbox.BusyInterval, "CRATES_OUTBOX_BUSY_INTERVAL"),
		envDuration(&c.Outbox.IdleInterval, "CRATES_OUTBOX_IDLE_INTERVAL"),
		envInt(&c.Outbox.CleanupEvery, "CRATES_OUTBOX_CLEANUP_EVERY"),
		envInt(&c.Outbox.RetentionDays, "CRATES_OUTBOX_RETENTION_DAYS"),
		envBool(&c.Outbox.Claim, "CRATES_OUTBOX_CLAIM"),
		envInt(&c.Discogs.RequestsPerMinute, "CRATES_DISCOGS_RATE"),
		envDuration(&c.Discogs.Backoff, "CRATES_DISCOGS_BACKOFF"),
		envInt(&c.Discogs.PerPage, "CRATES_DISCOGS_PER_PAGE"),
		envInt(&c.Redis.DB, "CRATES_REDIS_DB"),
		envDuration(&c.Redis.DedupeTTL, "CRATES_REDIS_DEDUPE_TTL"),
		envInt(&c.Activity.RingSize, "CRATES_ACTIVITY_RING_SIZE"),
	)
}

// Validate checks settings that have no usable fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("CRATES_DATABASE_URL is required"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format %q: want text or json", c.LogFormat))
	}
	if c.Broker.Kind != "noop" && c.Broker.Kind != "" && c.Broker.URL == "" {
		errs = append(errs, fmt.Errorf("broker %q needs CRATES_BROKER_URL", c.Broker.Kind))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.Outbox.RetentionDays < 0 {
		errs = append(errs, errors.New("outbox retention days must not be negative"))
	}
	if c.Outbox.CleanupEvery < 0 {
		errs = append(errs, errors.New("outbox cleanup interval must not be negative"))
	}
	if c.Discogs.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("discogs rate must not be negative"))
	}
	return errors.Join(errs...)
}

// UsesMemoryStore reports whether the in-memory store is selected.
func (c *Config) UsesMemoryStore() bool { return c.DatabaseURL == MemoryDatabase }

// Masked returns a copy with credentials replaced, for display.
func (c *Config) Masked() *Config {
	m := *c
	m.DatabaseURL = maskURL(c.DatabaseURL)
	maskString(&m.AuthToken)
	maskString(&m.Broker.Passcode)
	maskString(&m.Discogs.Token)
	maskString(&m.Redis.Password)
	maskString(&m.Activity.Secret)
	return &m
}

func maskString(s *string) {
	if *s != "" {
		*s = masked
	}
}

func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), masked)
	}
	return u.String()
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
