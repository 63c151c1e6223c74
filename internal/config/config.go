package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the live server configuration loaded from config.yaml.
type Config struct {
	Version int `yaml:"version"`

	Server struct {
		Port        int    `yaml:"port"`
		TLSCertFile string `yaml:"tls_cert_file"`
		TLSKeyFile  string `yaml:"tls_key_file"`
		// Instance names this engine in audit events and metrics. Defaults to the hostname.
		Instance string `yaml:"instance"`
	} `yaml:"server"`

	Schedule struct {
		ID string `yaml:"id"`
	} `yaml:"schedule"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	OBS struct {
		URL string `yaml:"url"`
		// PasswordEnv names the env var (or *_FILE var) holding the OBS websocket password.
		PasswordEnv       string   `yaml:"password_env"`
		ConnectTimeout    Duration `yaml:"connect_timeout"`
		ReconnectInterval Duration `yaml:"reconnect_interval"`
	} `yaml:"obs"`

	Transitions struct {
		MediaSafetyMarginMS int      `yaml:"media_safety_margin_ms"`
		CompletionTimeout   Duration `yaml:"completion_timeout"`
		Exclusive           *bool    `yaml:"exclusive"`
	} `yaml:"transitions"`

	Bus struct {
		Driver string `yaml:"driver"` // local, mqtt, nats
		URL    string `yaml:"url"`
		Prefix string `yaml:"prefix"`
	} `yaml:"bus"`

	Sync struct {
		PingPeriod Duration `yaml:"ping_period"`
		PongWait   Duration `yaml:"pong_wait"`
	} `yaml:"sync"`

	Storage struct {
		Driver      string `yaml:"driver"` // memory, postgres
		FixturePath string `yaml:"fixture_path"`
		Postgres    struct {
			Host        string `yaml:"host"`
			Port        int    `yaml:"port"`
			User        string `yaml:"user"`
			Database    string `yaml:"database"`
			PasswordEnv string `yaml:"password_env"`
			SSLMode     string `yaml:"sslmode"`
		} `yaml:"postgres"`
	} `yaml:"storage"`
}

// Duration is a time.Duration that unmarshals from strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Port returns the configured HTTP port, defaulting to 8080 if not set.
func (c *Config) Port() int {
	if c.Server.Port == 0 {
		return 8080
	}
	return c.Server.Port
}

// TLSEnabled reports whether both certificate and key are configured.
func (c *Config) TLSEnabled() bool {
	return c.Server.TLSCertFile != "" && c.Server.TLSKeyFile != ""
}

// MediaSafetyMargin is the buffer added on top of a media source's playback length.
func (c *Config) MediaSafetyMargin() time.Duration {
	return time.Duration(c.Transitions.MediaSafetyMarginMS) * time.Millisecond
}

// Exclusive reports whether a runner refuses overlapping sequences. Defaults to true.
func (c *Config) Exclusive() bool {
	if c.Transitions.Exclusive == nil {
		return true
	}
	return *c.Transitions.Exclusive
}

func (c *Config) applyDefaults() {
	if c.Server.Instance == "" {
		c.Server.Instance, _ = os.Hostname()
	}
	if c.Schedule.ID == "" {
		c.Schedule.ID = "main"
	}
	if c.OBS.URL == "" {
		c.OBS.URL = "ws://localhost:4455"
	}
	if c.OBS.PasswordEnv == "" {
		c.OBS.PasswordEnv = "OBS_PASSWORD"
	}
	if c.OBS.ConnectTimeout == 0 {
		c.OBS.ConnectTimeout = Duration(10 * time.Second)
	}
	if c.OBS.ReconnectInterval == 0 {
		c.OBS.ReconnectInterval = Duration(5 * time.Second)
	}
	if c.Transitions.MediaSafetyMarginMS == 0 {
		c.Transitions.MediaSafetyMarginMS = 100
	}
	if c.Transitions.CompletionTimeout == 0 {
		c.Transitions.CompletionTimeout = Duration(30 * time.Second)
	}
	if c.Bus.Driver == "" {
		c.Bus.Driver = "local"
	}
	if c.Bus.Prefix == "" {
		c.Bus.Prefix = "graphics"
	}
	if c.Sync.PongWait == 0 {
		c.Sync.PongWait = Duration(60 * time.Second)
	}
	if c.Sync.PingPeriod == 0 {
		c.Sync.PingPeriod = Duration(c.Sync.PongWait.Std() * 9 / 10)
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	pg := &c.Storage.Postgres
	if pg.Host == "" {
		pg.Host = "127.0.0.1"
	}
	if pg.Port == 0 {
		pg.Port = 5432
	}
	if pg.User == "" {
		pg.User = "graphics"
	}
	if pg.Database == "" {
		pg.Database = "graphics"
	}
	if pg.PasswordEnv == "" {
		pg.PasswordEnv = "PGPASSWORD"
	}
	if pg.SSLMode == "" {
		pg.SSLMode = "disable"
	}
}

func (c *Config) validate() error {
	switch c.Bus.Driver {
	case "local", "mqtt", "nats":
	default:
		return fmt.Errorf("unsupported bus driver: %s", c.Bus.Driver)
	}
	if c.Bus.Driver != "local" && c.Bus.URL == "" {
		return fmt.Errorf("bus.url is required for driver %s", c.Bus.Driver)
	}
	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	if c.Sync.PingPeriod >= c.Sync.PongWait {
		return fmt.Errorf("sync.ping_period must be less than sync.pong_wait")
	}
	return nil
}

// Parse decodes, defaults and validates a config document.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported config version: %d", cfg.Version)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}
