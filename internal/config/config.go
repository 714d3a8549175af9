package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/compliscope/compliscope/internal/archive"
	"github.com/compliscope/compliscope/internal/models"
	"github.com/compliscope/compliscope/internal/notifications"
)

type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Logging       LoggingConfig        `yaml:"logging"`
	Storage       StorageConfig        `yaml:"storage"`
	Database      DatabaseConfig       `yaml:"database"`
	Redis         RedisConfig          `yaml:"redis"`
	Auth          AuthConfig           `yaml:"auth"`
	Catalog       CatalogConfig        `yaml:"catalog"`
	Integrations  IntegrationsConfig   `yaml:"integrations"`
	Exports       ExportsConfig        `yaml:"exports"`
	Archive       archive.Config       `yaml:"archive"`
	Monitor       MonitorConfig        `yaml:"monitor"`
	Notifications notifications.Config `yaml:"notifications"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	CORSAllowOrigin string        `yaml:"cors_allow_origin"`
	// MetricsUsername and MetricsPassword protect /metrics with basic auth
	// when either is set.
	MetricsUsername string `yaml:"metrics_username"`
	MetricsPassword string `yaml:"metrics_password"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// NewLogger builds the process logger.
func (c LoggingConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

type StorageBackend string

const (
	StorageMemory   StorageBackend = "memory"
	StoragePostgres StorageBackend = "postgres"
	StorageRedis    StorageBackend = "redis"
)

// StorageConfig selects where report history and settings live.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend"`
	// Namespace prefixes every key in the redis backend.
	Namespace string `yaml:"namespace"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
	Issuer      string        `yaml:"issuer"`
}

type CatalogConfig struct {
	// Latency simulates the upstream catalog service.
	Latency  time.Duration `yaml:"latency"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type IntegrationsConfig struct {
	// Seed fixes the synthetic content generator; zero seeds from the clock.
	Seed      int64 `yaml:"seed"`
	ScanLimit int   `yaml:"scan_limit"`
}

type ExportsConfig struct {
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	StaleTimeout time.Duration `yaml:"stale_timeout"`
}

type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageMemory, StoragePostgres, StorageRedis:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == StorageRedis && !c.Redis.Enabled {
		return fmt.Errorf("storage backend redis requires redis.enabled")
	}
	if c.Exports.Workers > 0 && !c.Redis.Enabled {
		return fmt.Errorf("export workers require redis.enabled")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageMemory
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = "compliscope"
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Database == "" {
		c.Database.Database = "compliscope"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "change-me-in-production"
		slog.Warn("using default JWT secret, set auth.jwt_secret in production")
	}
	if c.Auth.TokenExpiry == 0 {
		c.Auth.TokenExpiry = 24 * time.Hour
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "compliscope"
	}

	if c.Catalog.CacheTTL == 0 {
		c.Catalog.CacheTTL = time.Hour
	}

	if c.Integrations.ScanLimit == 0 {
		c.Integrations.ScanLimit = 100
	}

	if c.Exports.MaxAttempts == 0 {
		c.Exports.MaxAttempts = 3
	}
	if c.Exports.StaleTimeout == 0 {
		c.Exports.StaleTimeout = 30 * time.Minute
	}

	if c.Archive.Backend == "" {
		c.Archive.Backend = archive.BackendLocal
	}
	if c.Archive.URLExpiry == 0 {
		c.Archive.URLExpiry = 24 * time.Hour
	}

	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 20 * time.Second
	}

	if c.Notifications.Slack.Username == "" {
		c.Notifications.Slack.Username = "Compliscope"
	}
	if c.Notifications.Slack.IconEmoji == "" {
		c.Notifications.Slack.IconEmoji = ":shield:"
	}
	if c.Notifications.Slack.MinSeverity == "" {
		c.Notifications.Slack.MinSeverity = models.SeverityHigh
	}
	if c.Notifications.Email.MinSeverity == "" {
		c.Notifications.Email.MinSeverity = models.SeverityHigh
	}
	if c.Notifications.Email.SMTPPort == 0 {
		c.Notifications.Email.SMTPPort = 587
	}
}
