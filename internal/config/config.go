package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Analytics   AnalyticsConfig `mapstructure:"analytics"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Security    SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AnalyticsConfig tunes the correlation and regime pipeline.
type AnalyticsConfig struct {
	DefaultAlpha            float64 `mapstructure:"default_alpha"`
	MinTickers              int     `mapstructure:"min_tickers"`
	MaxTickers              int     `mapstructure:"max_tickers"`
	LowConfidenceSampleSize int     `mapstructure:"low_confidence_sample_size"`
	SymmetryTolerance       float64 `mapstructure:"symmetry_tolerance"`
	DefaultWindowDays       int     `mapstructure:"default_window_days"`
	CacheTTL                string  `mapstructure:"cache_ttl"`
	EnableCache             bool    `mapstructure:"enable_cache"`
	Denoise                 bool    `mapstructure:"denoise"`
}

// GetCacheTTL returns the parsed cache TTL, falling back to one hour.
func (c AnalyticsConfig) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" json:"-" yaml:"-"`
	ChatID   int64  `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Exporter    string `mapstructure:"exporter"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type SecurityConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry   string `mapstructure:"jwt_expiry"`
	RequireAuth bool   `mapstructure:"require_auth"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("security.jwt_secret", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	config.Telemetry.Exporter = strings.ToLower(config.Telemetry.Exporter)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	a := c.Analytics
	if a.DefaultAlpha < 0 || a.DefaultAlpha > 1 {
		return fmt.Errorf("analytics.default_alpha must be within [0, 1], got %g", a.DefaultAlpha)
	}
	if a.MinTickers < 2 {
		return fmt.Errorf("analytics.min_tickers must be at least 2, got %d", a.MinTickers)
	}
	if a.MaxTickers < a.MinTickers {
		return fmt.Errorf("analytics.max_tickers (%d) must not be below min_tickers (%d)", a.MaxTickers, a.MinTickers)
	}
	if a.LowConfidenceSampleSize <= 0 {
		return fmt.Errorf("analytics.low_confidence_sample_size must be positive, got %d", a.LowConfidenceSampleSize)
	}
	if a.SymmetryTolerance <= 0 {
		return fmt.Errorf("analytics.symmetry_tolerance must be positive, got %g", a.SymmetryTolerance)
	}
	if a.DefaultWindowDays <= 0 {
		return fmt.Errorf("analytics.default_window_days must be positive, got %d", a.DefaultWindowDays)
	}

	durations := map[string]string{
		"analytics.cache_ttl":        a.CacheTTL,
		"security.jwt_expiry":        c.Security.JWTExpiry,
		"server.shutdown_timeout":    c.Server.ShutdownTimeout,
		"database.conn_max_lifetime": c.Database.ConnMaxLifetime,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s duration: %w", key, err)
		}
	}

	if c.Security.RequireAuth && c.Security.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required when security.require_auth is enabled")
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == 0) {
		return errors.New("telegram.bot_token and telegram.chat_id are required when telegram.enabled is set")
	}

	switch c.Telemetry.Exporter {
	case "", "stdout", "otlp":
	default:
		return fmt.Errorf("unsupported telemetry exporter %q", c.Telemetry.Exporter)
	}
	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.shutdown_timeout", "15s")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "correlation_regime")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Analytics
	viper.SetDefault("analytics.default_alpha", 0.3)
	viper.SetDefault("analytics.min_tickers", 2)
	viper.SetDefault("analytics.max_tickers", 5)
	viper.SetDefault("analytics.low_confidence_sample_size", 30)
	viper.SetDefault("analytics.symmetry_tolerance", 1e-9)
	viper.SetDefault("analytics.default_window_days", 365)
	viper.SetDefault("analytics.cache_ttl", "1h")
	viper.SetDefault("analytics.enable_cache", true)
	viper.SetDefault("analytics.denoise", false)

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", 0)
	viper.SetDefault("telegram.enabled", false)

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.exporter", "stdout")
	viper.SetDefault("telemetry.endpoint", "http://localhost:4318")
	viper.SetDefault("telemetry.service_name", "correlation-regime")

	// Security
	viper.SetDefault("security.jwt_secret", "")
	viper.SetDefault("security.jwt_expiry", "24h")
	viper.SetDefault("security.require_auth", false)
}
