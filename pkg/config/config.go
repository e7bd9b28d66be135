// Package config loads the crane host configuration: server settings from
// the environment (optionally seeded from a .env file) and the crane
// description from a YAML file.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"

	"crane-go/pkg/errors"
	"crane-go/pkg/log"
)

// EnvPrefix prefixes every server setting variable.
const EnvPrefix = "CRANE"

// Default server settings.
const (
	DefaultAddr             = ":8000"
	DefaultTickInterval     = 100 * time.Millisecond
	DefaultSnapshotInterval = 100 * time.Millisecond
	DefaultMQTTTopic        = "crane/snapshots"
	DefaultMQTTClientID     = "crane-server"
	DefaultRedisKey         = "crane:snapshot"
)

// Config holds the server settings.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// TickInterval is the motion controller tick period.
	TickInterval time.Duration

	// MaxDuration bounds motions without a maxDurationMs field. Zero means
	// unlimited.
	MaxDuration time.Duration

	// SnapshotInterval is the period of the per-connection snapshot pump.
	SnapshotInterval time.Duration

	// SpecFile is an optional YAML crane description.
	SpecFile string

	// MQTT telemetry; disabled when MQTTBroker is empty.
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// Redis snapshot cache; disabled when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
	RedisTTL      time.Duration

	LogFile string

	// Optional basic auth for /metrics.
	MetricsUser     string
	MetricsPassword string
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Addr:             DefaultAddr,
		TickInterval:     DefaultTickInterval,
		SnapshotInterval: DefaultSnapshotInterval,
		MQTTTopic:        DefaultMQTTTopic,
		MQTTClientID:     DefaultMQTTClientID,
		RedisKey:         DefaultRedisKey,
	}
}

// Load reads optional .env files (".env" when none are named) into the
// process environment, then builds the settings from it. Variables already
// set in the environment win over the files.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		log.GetLogger("config").Debug("no .env file loaded: %v", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the settings from variables returned by lookup.
func FromEnv(lookup LookupFunc) (*Config, error) {
	env := NewSection(EnvPrefix, lookup)
	cfg := Default()
	var err error

	cfg.Addr = env.Get("addr", cfg.Addr)
	if cfg.TickInterval, err = env.GetMillis("tick_ms", cfg.TickInterval); err != nil {
		return nil, err
	}
	if cfg.MaxDuration, err = env.GetMillis("max_duration_ms", cfg.MaxDuration); err != nil {
		return nil, err
	}
	if cfg.SnapshotInterval, err = env.GetMillis("snapshot_ms", cfg.SnapshotInterval); err != nil {
		return nil, err
	}
	cfg.SpecFile = env.Get("spec_file", "")

	cfg.MQTTBroker = env.Get("mqtt_broker", "")
	cfg.MQTTTopic = env.Get("mqtt_topic", cfg.MQTTTopic)
	cfg.MQTTClientID = env.Get("mqtt_client_id", cfg.MQTTClientID)
	cfg.MQTTUsername = env.Get("mqtt_username", "")
	cfg.MQTTPassword = env.Get("mqtt_password", "")

	cfg.RedisAddr = env.Get("redis_addr", "")
	cfg.RedisPassword = env.Get("redis_password", "")
	if cfg.RedisDB, err = env.GetInt("redis_db", 0); err != nil {
		return nil, err
	}
	cfg.RedisKey = env.Get("redis_key", cfg.RedisKey)
	if cfg.RedisTTL, err = env.GetMillis("redis_ttl_ms", 0); err != nil {
		return nil, err
	}

	cfg.LogFile = env.Get("log_file", "")
	cfg.MetricsUser = env.Get("metrics_user", "")
	cfg.MetricsPassword = env.Get("metrics_password", "")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.ConfigValidationError("addr", "must not be empty")
	}
	if c.TickInterval <= 0 {
		return errors.ConfigValidationError("tick_ms", "must be positive")
	}
	if c.SnapshotInterval <= 0 {
		return errors.ConfigValidationError("snapshot_ms", "must be positive")
	}
	if c.MaxDuration < 0 {
		return errors.ConfigValidationError("max_duration_ms", "must not be negative")
	}
	if c.RedisDB < 0 {
		return errors.ConfigValidationError("redis_db", "must not be negative")
	}
	return nil
}
