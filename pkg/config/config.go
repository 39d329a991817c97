package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Store backends
const (
	BackendRedis = "redis"
	BackendSQL   = "sql"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Images    ImagesConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
	Boards    []BoardSeed
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	PublicDir      string
	MaxUploadBytes int64
	CORSOrigins    []string
	// TrustedProxies may set X-Forwarded-For; empty means the socket peer is the client
	TrustedProxies []string
}

// StoreConfig selects and configures the backing store
type StoreConfig struct {
	Backend     string
	RedisURL    string
	DatabaseURL string
	PoolSize    int
}

// ImagesConfig holds image ingestion settings
type ImagesConfig struct {
	Dir              string
	ThumbDir         string
	MinSize          int64
	QualityThreshold int64
	LossyQuality     int
	ThumbWidth       int
	MaxPixels        int64
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled           bool
	JaegerURL         string
	PrometheusEnabled bool
	PrometheusPort    int
	ServiceName       string
	SentryDSN         string
}

// BoardSeed describes a board created at startup
type BoardSeed struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Slug        string `mapstructure:"slug" yaml:"slug"`
	Description string `mapstructure:"description" yaml:"description"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("CORNCHAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.cornchan")
	viper.AddConfigPath("/etc/cornchan")

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found; this is OK if we have env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var boards []BoardSeed
	if err := viper.UnmarshalKey("boards", &boards); err != nil {
		return nil, fmt.Errorf("error reading boards: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getInt("server.port", 3000),
			Host:           getString("server.host", "0.0.0.0"),
			PublicDir:      getString("server.public_dir", "public"),
			MaxUploadBytes: getInt64("server.max_upload_bytes", 32<<20),
			CORSOrigins:    viper.GetStringSlice("server.cors_origins"),
			TrustedProxies: viper.GetStringSlice("server.trusted_proxies"),
		},
		Store: StoreConfig{
			Backend:     getString("store.backend", BackendRedis),
			RedisURL:    getString("store.redis_url", "redis://localhost:6379/0"),
			DatabaseURL: getString("store.database_url", "sqlite://cornchan.db"),
			PoolSize:    getInt("store.pool_size", 10),
		},
		Images: ImagesConfig{
			Dir:              getString("images.dir", "public/images"),
			ThumbDir:         getString("images.thumb_dir", "public/thumbs"),
			MinSize:          getInt64("images.min_size", 64),
			QualityThreshold: getInt64("images.quality_threshold", 500<<10),
			LossyQuality:     getInt("images.lossy_quality", 50),
			ThumbWidth:       getInt("images.thumb_width", 300),
			MaxPixels:        getInt64("images.max_pixels", 40_000_000),
		},
		Logging: LoggingConfig{
			Level:  getString("logging.level", "INFO"),
			Format: getString("logging.format", "json"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           getBool("telemetry.enabled", false),
			JaegerURL:         getString("telemetry.jaeger_url", ""),
			PrometheusEnabled: getBool("telemetry.prometheus_enabled", true),
			PrometheusPort:    getInt("telemetry.prometheus_port", 9090),
			ServiceName:       getString("telemetry.service_name", "cornchan"),
			SentryDSN:         getString("telemetry.sentry_dsn", ""),
		},
		Boards: boards,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.public_dir", "public")
	viper.SetDefault("server.max_upload_bytes", 32<<20)
	viper.SetDefault("store.backend", BackendRedis)
	viper.SetDefault("store.redis_url", "redis://localhost:6379/0")
	viper.SetDefault("store.database_url", "sqlite://cornchan.db")
	viper.SetDefault("store.pool_size", 10)
	viper.SetDefault("images.dir", "public/images")
	viper.SetDefault("images.thumb_dir", "public/thumbs")
	viper.SetDefault("images.min_size", 64)
	viper.SetDefault("images.quality_threshold", 500<<10)
	viper.SetDefault("images.lossy_quality", 50)
	viper.SetDefault("images.thumb_width", 300)
	viper.SetDefault("images.max_pixels", 40_000_000)
	viper.SetDefault("logging.level", "INFO")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.prometheus_enabled", true)
	viper.SetDefault("telemetry.prometheus_port", 9090)
	viper.SetDefault("telemetry.service_name", "cornchan")
}

func getString(key, defaultValue string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	if val := os.Getenv(toEnvKey(key)); val != "" {
		return val
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	if val := os.Getenv(toEnvKey(key)); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if viper.IsSet(key) {
		return viper.GetInt64(key)
	}
	if val := os.Getenv(toEnvKey(key)); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	if val := os.Getenv(toEnvKey(key)); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultValue
}

// toEnvKey maps "store.redis_url" to "CORNCHAN_STORE_REDIS_URL"
func toEnvKey(key string) string {
	return "CORNCHAN_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis backend")
		}
	case BackendSQL:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the sql backend")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q", BackendRedis, BackendSQL)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Images.Dir == "" {
		return fmt.Errorf("images.dir is required")
	}
	if c.Images.MinSize < 0 {
		return fmt.Errorf("images.min_size must not be negative")
	}
	if c.Images.QualityThreshold <= 0 {
		return fmt.Errorf("images.quality_threshold must be positive")
	}
	if c.Images.LossyQuality < 1 || c.Images.LossyQuality > 100 {
		return fmt.Errorf("images.lossy_quality must be between 1 and 100")
	}
	if c.Images.MaxPixels < 0 {
		return fmt.Errorf("images.max_pixels must not be negative")
	}
	if c.Images.ThumbWidth < 0 {
		return fmt.Errorf("images.thumb_width must not be negative")
	}
	if c.Images.ThumbWidth > 0 && c.Images.ThumbDir == "" {
		return fmt.Errorf("images.thumb_dir is required when thumbnails are enabled")
	}
	return nil
}
