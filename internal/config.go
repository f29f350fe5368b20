package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Settlement    SettlementConfig    `mapstructure:"settlement"`
	Directory     DirectoryConfig     `mapstructure:"directory"`
	Autopay       AutopayConfig       `mapstructure:"autopay"`
	Receipts      ReceiptConfig       `mapstructure:"receipts"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	JWTSecret           string        `mapstructure:"jwt_secret"`
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration"`
	// PaymentPINHash is a bcrypt hash; payments above ConfirmationThreshold
	// that no standing limit covers must present the matching PIN.
	PaymentPINHash        string `mapstructure:"payment_pin_hash"`
	ConfirmationThreshold int64  `mapstructure:"confirmation_threshold_sats"`
	BCryptCost            int    `mapstructure:"bcrypt_cost"`
}

type SettlementConfig struct {
	BaseURL               string        `mapstructure:"base_url"`
	APIKey                string        `mapstructure:"api_key"`
	CallbackURL           string        `mapstructure:"callback_url"`
	WebhookSecret         string        `mapstructure:"webhook_secret"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	SettleTimeout         time.Duration `mapstructure:"settle_timeout"`
	ConfirmationWorkers   int           `mapstructure:"confirmation_workers"`
	ConfirmationQueueSize int           `mapstructure:"confirmation_queue_size"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	MaxChecks             int           `mapstructure:"max_checks"`
	RequiredConfirmations int           `mapstructure:"required_confirmations"`
}

type DirectoryConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Strategy string        `mapstructure:"strategy"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type AutopayConfig struct {
	// Enabled seeds the global switch when no persisted setting exists yet.
	Enabled bool `mapstructure:"enabled"`
}

type ReceiptConfig struct {
	MaxRetained int `mapstructure:"max_retained"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfigFromEnv builds the configuration for container deployments where
// no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 8080),
			BaseURL:           getEnv("BASE_URL", "http://localhost:8080"),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 90*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			JWTSecret:             getEnv("JWT_SECRET", ""),
			AccessTokenDuration:   getEnvAsDuration("ACCESS_TOKEN_DURATION", time.Hour),
			PaymentPINHash:        getEnv("PAYMENT_PIN_HASH", ""),
			ConfirmationThreshold: int64(getEnvAsInt("CONFIRMATION_THRESHOLD_SATS", 0)),
			BCryptCost:            getEnvAsInt("BCRYPT_COST", 12),
		},
		Settlement: SettlementConfig{
			BaseURL:               getEnv("SETTLEMENT_BASE_URL", ""),
			APIKey:                getEnv("SETTLEMENT_API_KEY", ""),
			CallbackURL:           getEnv("SETTLEMENT_CALLBACK_URL", ""),
			WebhookSecret:         getEnv("SETTLEMENT_WEBHOOK_SECRET", ""),
			RequestTimeout:        getEnvAsDuration("SETTLEMENT_REQUEST_TIMEOUT", 30*time.Second),
			SettleTimeout:         getEnvAsDuration("SETTLEMENT_SETTLE_TIMEOUT", 60*time.Second),
			ConfirmationWorkers:   getEnvAsInt("SETTLEMENT_CONFIRMATION_WORKERS", 4),
			ConfirmationQueueSize: getEnvAsInt("SETTLEMENT_CONFIRMATION_QUEUE_SIZE", 100),
			PollInterval:          getEnvAsDuration("SETTLEMENT_POLL_INTERVAL", time.Minute),
			MaxChecks:             getEnvAsInt("SETTLEMENT_MAX_CHECKS", 60),
			RequiredConfirmations: getEnvAsInt("SETTLEMENT_REQUIRED_CONFIRMATIONS", 1),
		},
		Directory: DirectoryConfig{
			BaseURL:  getEnv("DIRECTORY_BASE_URL", ""),
			APIKey:   getEnv("DIRECTORY_API_KEY", ""),
			Strategy: getEnv("DIRECTORY_STRATEGY", "balanced"),
			Timeout:  getEnvAsDuration("DIRECTORY_TIMEOUT", 10*time.Second),
		},
		Autopay: AutopayConfig{
			Enabled: getEnvAsBool("AUTOPAY_ENABLED", false),
		},
		Receipts: ReceiptConfig{
			MaxRetained: getEnvAsInt("RECEIPTS_MAX_RETAINED", 500),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnvAsBool("METRICS_ENABLED", true),
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Settlement.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("settlement config: %v", err))
	}

	if err := c.Directory.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("directory config: %v", err))
	}

	if c.Receipts.MaxRetained < 0 {
		errs = append(errs, "receipts config: max_retained cannot be negative")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	if c.ConfirmationThreshold < 0 {
		return errors.New("confirmation_threshold_sats cannot be negative")
	}
	if c.ConfirmationThreshold > 0 && c.PaymentPINHash == "" {
		return errors.New("payment_pin_hash is required when a confirmation threshold is set")
	}
	return nil
}

func (c *SettlementConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if c.CallbackURL != "" {
		if _, err := url.ParseRequestURI(c.CallbackURL); err != nil {
			return fmt.Errorf("invalid callback_url: %w", err)
		}
	}
	return nil
}

func (c *DirectoryConfig) Validate() error {
	if c.BaseURL == "" {
		return nil
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	return nil
}
