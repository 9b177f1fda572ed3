package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Feed sources
const (
	SourceDataServer = "dataserver"
	SourceReplay     = "replay"
	SourceCapture    = "capture"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Mapping  MappingConfig  `mapstructure:"mapping"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Database DatabaseConfig `mapstructure:"database"`
	Replay   ReplayConfig   `mapstructure:"replay"`
	NATS     NATSConfig     `mapstructure:"nats"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MappingConfig names either a CSV file or a YAML area manifest.
type MappingConfig struct {
	File     string `mapstructure:"file"`
	Manifest string `mapstructure:"manifest"`
}

type FeedConfig struct {
	Source      string          `mapstructure:"source"`
	Host        string          `mapstructure:"host"`
	Port        int             `mapstructure:"port"`
	DialTimeout time.Duration   `mapstructure:"dial_timeout"`
	CaptureFile string          `mapstructure:"capture_file"`
	Reconnect   ReconnectConfig `mapstructure:"reconnect"`
}

func (f *FeedConfig) Address() string {
	return fmt.Sprintf("%s:%d", f.Host, f.Port)
}

// ReconnectConfig is the backoff used between connection attempts.
// MaxAttempts 0 retries forever.
type ReconnectConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type ReplayConfig struct {
	PageSize int `mapstructure:"page_size"`
	LowWater int `mapstructure:"low_water"`
}

type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("logging.development", false)

	v.SetDefault("mapping.file", "")
	v.SetDefault("mapping.manifest", "")

	v.SetDefault("feed.source", SourceDataServer)
	v.SetDefault("feed.host", "localhost")
	v.SetDefault("feed.port", 6325)
	v.SetDefault("feed.dial_timeout", "10s")
	v.SetDefault("feed.capture_file", "")
	v.SetDefault("feed.reconnect.max_attempts", 0)
	v.SetDefault("feed.reconnect.initial_delay", "1s")
	v.SetDefault("feed.reconnect.max_delay", "60s")
	v.SetDefault("feed.reconnect.multiplier", 2.0)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "td_logs")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 4)

	// ~3 days and ~2 days of Cambridge TD traffic
	v.SetDefault("replay.page_size", 300000)
	v.SetDefault("replay.low_water", 200000)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "signalling")
}

// Load reads the YAML file at path. Every key can be overridden by an
// environment variable with prefix CSM_, e.g. CSM_FEED_HOST.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("CSM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if c.Mapping.File == "" && c.Mapping.Manifest == "" {
		errs = append(errs, errors.New("mapping.file or mapping.manifest is required"))
	}
	if c.Mapping.File != "" && c.Mapping.Manifest != "" {
		errs = append(errs, errors.New("mapping.file and mapping.manifest are mutually exclusive"))
	}

	switch c.Feed.Source {
	case SourceDataServer:
		if c.Feed.Host == "" || c.Feed.Port <= 0 || c.Feed.Port > 65535 {
			errs = append(errs, fmt.Errorf("feed: invalid data server address %q", c.Feed.Address()))
		}
	case SourceReplay:
		if c.Replay.PageSize <= 0 {
			errs = append(errs, errors.New("replay.page_size must be positive"))
		}
		if c.Replay.LowWater < 0 || c.Replay.LowWater >= c.Replay.PageSize {
			errs = append(errs, errors.New("replay.low_water must be between 0 and page_size"))
		}
	case SourceCapture:
		if c.Feed.CaptureFile == "" {
			errs = append(errs, errors.New("feed.capture_file is required for source capture"))
		}
	default:
		errs = append(errs, fmt.Errorf("feed.source %q must be one of %s, %s, %s",
			c.Feed.Source, SourceDataServer, SourceReplay, SourceCapture))
	}

	r := c.Feed.Reconnect
	if r.MaxAttempts < 0 || r.InitialDelay <= 0 || r.MaxDelay < r.InitialDelay || r.Multiplier < 1 {
		errs = append(errs, errors.New("feed.reconnect: invalid backoff settings"))
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
