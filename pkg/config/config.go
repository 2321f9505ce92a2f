package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		CORSOrigins     []string      `yaml:"cors_origins"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Stream struct {
		URL            string        `yaml:"url" validate:"required,url"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"3s"`
		LivenessWindow time.Duration `yaml:"liveness_window" default:"75s"`
	} `yaml:"stream"`
	Backend struct {
		BaseURL string        `yaml:"base_url" validate:"required,url"`
		Timeout time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"backend"`
	Bias struct {
		Daily       Thresholds    `yaml:"daily"`
		Weekly      Thresholds    `yaml:"weekly"`
		Cyclical    Thresholds    `yaml:"cyclical"`
		OverrideTTL time.Duration `yaml:"override_ttl" default:"24h"`
	} `yaml:"bias"`
	Feed struct {
		RankFloorPosition int `yaml:"rank_floor_position" default:"10" validate:"gte=1"`
		PageLimit         int `yaml:"page_limit" default:"25" validate:"gte=1,lte=500"`
	} `yaml:"feed"`
	Scout struct {
		TTL      time.Duration `yaml:"ttl" default:"30m"`
		Capacity int           `yaml:"capacity" default:"3" validate:"gte=1"`
	} `yaml:"scout"`
	Reconcile struct {
		SignalsSpec  string `yaml:"signals_spec" default:"@every 60s"`
		BiasSpec     string `yaml:"bias_spec" default:"@every 2m"`
		OverrideSpec string `yaml:"override_spec" default:"@every 30s"`
	} `yaml:"reconcile"`
	Preferences struct {
		Backend string `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
		Redis   struct {
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"pandora"`
		} `yaml:"redis"`
	} `yaml:"preferences"`
	SnapshotCache struct {
		TTL time.Duration `yaml:"ttl" default:"6h"`
	} `yaml:"snapshot_cache"`
	RateLimit struct {
		RPS   float64 `yaml:"rps" default:"5"`
		Burst int     `yaml:"burst" default:"10"`
	} `yaml:"ratelimit"`
	Kafka struct {
		Enabled     bool     `yaml:"enabled"`
		Brokers     []string `yaml:"brokers"`
		EventsTopic string   `yaml:"events_topic" default:"dashboard.events"`
		ShiftsTopic string   `yaml:"shifts_topic" default:"dashboard.bias_shifts"`
		LogsTopic   string   `yaml:"logs_topic" default:"dashboard.logs"`
		DLQTopic    string   `yaml:"dlq_topic"`
		GroupID     string   `yaml:"group_id" default:"pandora-dashboard"`
		Workers     int      `yaml:"workers" default:"1"`
		Compression string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled     bool          `yaml:"enabled"`
		Host        string        `yaml:"host" default:"localhost"`
		Port        int           `yaml:"port" default:"9000"`
		Database    string        `yaml:"database" default:"pandora"`
		User        string        `yaml:"user" default:"default"`
		Password    string        `yaml:"password"`
		Table       string        `yaml:"table" default:"bias_journal"`
		DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
		FlushEvery  time.Duration `yaml:"flush_every" default:"5s"`
		BatchSize   int           `yaml:"batch_size" default:"100" validate:"gte=1"`
	} `yaml:"clickhouse"`
}

// Thresholds are the unscaled major/minor vote thresholds of one timeframe.
type Thresholds struct {
	Major int `yaml:"major" validate:"gte=0"`
	Minor int `yaml:"minor" validate:"gte=0"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse builds a Config from YAML bytes, applying defaults before validation.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyThresholdDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// A .env file in the working directory is read first when present.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyThresholdDefaults()
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PB_STREAM_URL"); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv("PB_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("PB_REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Preferences.Redis.Host = host
		if p, err := strconv.Atoi(port); ok && err == nil {
			c.Preferences.Redis.Port = p
		}
	}
	if v := os.Getenv("PB_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PB_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// applyThresholdDefaults fills the product thresholds (8/4 daily, 7/3 weekly
// and cyclical) for any timeframe the YAML left at zero.
func (c *Config) applyThresholdDefaults() {
	fill := func(t *Thresholds, major, minor int) {
		if t.Major == 0 && t.Minor == 0 {
			t.Major, t.Minor = major, minor
		}
	}
	fill(&c.Bias.Daily, 8, 4)
	fill(&c.Bias.Weekly, 7, 3)
	fill(&c.Bias.Cyclical, 7, 3)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	for name, t := range map[string]Thresholds{"daily": c.Bias.Daily, "weekly": c.Bias.Weekly, "cyclical": c.Bias.Cyclical} {
		if t.Minor > t.Major {
			return fmt.Errorf("bias.%s: minor threshold %d exceeds major %d", name, t.Minor, t.Major)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
