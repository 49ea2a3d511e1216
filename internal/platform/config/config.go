package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Bounds enforced by Validate. Values outside these ranges are a deployment
// mistake, not something to paper over at runtime.
const (
	BcryptCostMin = 10
	BcryptCostMax = 16

	MinKeyEntropyBytes = 32

	StatementTimeoutMin = time.Second
	StatementTimeoutMax = 5 * time.Minute
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// ExposeTiming adds an X-Process-Time header to every response.
	// Disable in production; response timing is an oracle.
	ExposeTiming bool `mapstructure:"expose_timing"`
}

type DatabaseConfig struct {
	URL              string        `mapstructure:"url"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

type AuthConfig struct {
	// BcryptCost is the work factor for hashing newly issued keys.
	// Existing hashes carry their own cost and verify unchanged.
	BcryptCost int `mapstructure:"bcrypt_cost"`

	// KeyEntropyBytes is the number of random bytes behind each secret.
	KeyEntropyBytes int `mapstructure:"key_entropy_bytes"`

	// MinKeyLength is the shortest candidate the auth middleware will even
	// hand to the validator.
	MinKeyLength int `mapstructure:"min_key_length"`

	Header string `mapstructure:"header"`
}

type CORSConfig struct {
	// AllowedOrigins empty means CORS is disabled entirely.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxAge         int      `mapstructure:"max_age"`
}

type LimitsConfig struct {
	MaxRequestBytes int64 `mapstructure:"max_request_bytes"`
	DefaultPageSize int   `mapstructure:"default_page_size"`
	MaxPageSize     int   `mapstructure:"max_page_size"`
	MaxPageOffset   int   `mapstructure:"max_page_offset"`

	// RequestsPerMinute caps authenticated traffic per client. Zero
	// disables rate limiting.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// Load reads configuration from the given YAML file with environment variable
// overrides (STENCIL_DATABASE_URL overrides database.url, etc). A .env file in
// the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	// A missing .env is the normal case outside dev.
	_ = godotenv.Load()

	viper.SetConfigFile(path)
	viper.SetEnvPrefix("stencil")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.expose_timing", false)

	viper.SetDefault("database.max_open_conns", 15)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "1h")
	viper.SetDefault("database.statement_timeout", "30s")

	viper.SetDefault("auth.bcrypt_cost", 12)
	viper.SetDefault("auth.key_entropy_bytes", 32)
	viper.SetDefault("auth.min_key_length", 32)
	viper.SetDefault("auth.header", "X-API-Key")

	viper.SetDefault("cors.max_age", 300)

	viper.SetDefault("limits.max_request_bytes", 10*1024*1024)
	viper.SetDefault("limits.default_page_size", 50)
	viper.SetDefault("limits.max_page_size", 100)
	viper.SetDefault("limits.max_page_offset", 1000)
	viper.SetDefault("limits.requests_per_minute", 0)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate rejects configurations that must never reach request handling.
// Called once at startup; a failure here is fatal.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("config: database.url must be a postgres:// URL")
	}
	if c.Auth.BcryptCost < BcryptCostMin || c.Auth.BcryptCost > BcryptCostMax {
		return fmt.Errorf("config: auth.bcrypt_cost must be in [%d,%d], got %d",
			BcryptCostMin, BcryptCostMax, c.Auth.BcryptCost)
	}
	if c.Auth.KeyEntropyBytes < MinKeyEntropyBytes {
		return fmt.Errorf("config: auth.key_entropy_bytes must be at least %d, got %d",
			MinKeyEntropyBytes, c.Auth.KeyEntropyBytes)
	}
	if c.Auth.MinKeyLength < 1 {
		return fmt.Errorf("config: auth.min_key_length must be positive")
	}
	if c.Auth.Header == "" {
		return fmt.Errorf("config: auth.header is required")
	}
	if c.Database.StatementTimeout < StatementTimeoutMin || c.Database.StatementTimeout > StatementTimeoutMax {
		return fmt.Errorf("config: database.statement_timeout must be in [%s,%s], got %s",
			StatementTimeoutMin, StatementTimeoutMax, c.Database.StatementTimeout)
	}
	if c.Limits.MaxPageSize < 1 {
		return fmt.Errorf("config: limits.max_page_size must be positive")
	}
	if c.Limits.DefaultPageSize < 1 || c.Limits.DefaultPageSize > c.Limits.MaxPageSize {
		return fmt.Errorf("config: limits.default_page_size must be in [1,%d]", c.Limits.MaxPageSize)
	}
	if c.Limits.MaxRequestBytes < 1 {
		return fmt.Errorf("config: limits.max_request_bytes must be positive")
	}
	if c.Limits.RequestsPerMinute < 0 {
		return fmt.Errorf("config: limits.requests_per_minute must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level must be one of debug, info, warn, error")
	}
	return nil
}

func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
