package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"rssi-haptics/analytics"
	"rssi-haptics/cache"

	"github.com/sosodev/duration"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr       string        `yaml:"listen_addr"`
	RedisAddr        string        `yaml:"redis_addr"`
	SnapshotTTL      time.Duration `yaml:"snapshot_ttl"`
	MQTTBroker       string        `yaml:"mqtt_broker"`
	MQTTClientID     string        `yaml:"mqtt_client_id"`
	MQTTTopicPrefix  string        `yaml:"mqtt_topic_prefix"`
	SessionQueueSize int           `yaml:"session_queue_size"`
	LogLevel         string        `yaml:"log_level"`

	Mapping analytics.IntensityMappingConfig `yaml:"mapping"`
}

func Default() Config {
	return Config{
		ListenAddr:       ":8080",
		RedisAddr:        "localhost:6379",
		SnapshotTTL:      cache.DefaultSnapshotTTL,
		MQTTClientID:     "rssi-haptics",
		MQTTTopicPrefix:  "haptics",
		SessionQueueSize: analytics.DefaultQueueSize,
		LogLevel:         "info",
		Mapping:          analytics.DefaultIntensityMappingConfig(),
	}
}

// Load reads the YAML file at path, if any, over the defaults and then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("LISTEN_ADDR", &c.ListenAddr)
	str("REDIS_ADDR", &c.RedisAddr)
	str("MQTT_BROKER", &c.MQTTBroker)
	str("MQTT_CLIENT_ID", &c.MQTTClientID)
	str("MQTT_TOPIC_PREFIX", &c.MQTTTopicPrefix)
	str("LOG_LEVEL", &c.LogLevel)

	var errs []error
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	dur("SNAPSHOT_TTL", &c.SnapshotTTL)
	dur("DEBOUNCE_INTERVAL", &c.Mapping.DebounceInterval)

	float := func(name string, dst *float64) {
		if v, ok := lookup(name); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = f
		}
	}
	float("MIN_Z", &c.Mapping.MinZ)
	float("MAX_Z", &c.Mapping.MaxZ)

	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	integer("MAX_INTENSITY", &c.Mapping.MaxIntensity)
	integer("SESSION_QUEUE_SIZE", &c.SessionQueueSize)

	return errors.Join(errs...)
}

// ParseDuration accepts Go durations ("200ms") and ISO 8601 durations ("PT0.2S").
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if !strings.HasPrefix(strings.ToUpper(s), "P") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	d, err := duration.Parse(strings.ToUpper(s))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d.ToTimeDuration(), nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.SessionQueueSize < 1 {
		return errors.New("session_queue_size must be at least 1")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return c.Mapping.Validate()
}

func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return level, nil
}
