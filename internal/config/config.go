package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/procurement-lifecycle/internal/application/workflow"
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Lark         LarkConfig         `mapstructure:"lark"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Sweeper      SweeperConfig      `mapstructure:"sweeper"`
	Dispatcher   DispatcherConfig   `mapstructure:"dispatcher"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	// MigrationsDir overrides the embedded migrations when set
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// OrchestratorConfig tunes the lifecycle orchestrator
type OrchestratorConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BidExclusivity      string        `mapstructure:"bid_exclusivity"`
	InvoicePaymentTerms time.Duration `mapstructure:"invoice_payment_terms"`
}

// NATSConfig holds the event publisher settings
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	AppID         string   `mapstructure:"app_id"`
	AppSecret     string   `mapstructure:"app_secret"`
	ReceiveIDType string   `mapstructure:"receive_id_type"`
	ReceiveID     string   `mapstructure:"receive_id"`
	EventTypes    []string `mapstructure:"event_types"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SweeperConfig holds the background sweeper settings
type SweeperConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	OverdueInterval      time.Duration `mapstructure:"overdue_interval"`
	BudgetExpiryInterval time.Duration `mapstructure:"budget_expiry_interval"`
	BatchSize            int           `mapstructure:"batch_size"`
}

// DispatcherConfig bounds event delivery to each sink
type DispatcherConfig struct {
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

// LoadDotEnv loads variables from an env file when it exists. Variables already
// set in the process environment win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from file and environment variables. An empty
// configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/procurement.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.migrations_dir", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("orchestrator.max_attempts", 3)
	v.SetDefault("orchestrator.bid_exclusivity", "block")
	v.SetDefault("orchestrator.invoice_payment_terms", 720*time.Hour)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "procurement")
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("lark.enabled", false)
	v.SetDefault("lark.receive_id_type", "chat_id")
	v.SetDefault("lark.event_types", []string{"entity.transitioned", "entity.derived"})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.overdue_interval", time.Hour)
	v.SetDefault("sweeper.budget_expiry_interval", 24*time.Hour)
	v.SetDefault("sweeper.batch_size", 100)

	v.SetDefault("dispatcher.handler_timeout", 10*time.Second)
}

// bindEnvVars binds the conventional variable names of secrets and endpoints
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("lark.app_id", "LARK_APP_ID")
	v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	v.BindEnv("lark.receive_id", "LARK_RECEIVE_ID")
	v.BindEnv("nats.url", "NATS_URL")
	v.BindEnv("database.path", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	if c.Orchestrator.MaxAttempts < 1 {
		return fmt.Errorf("orchestrator.max_attempts must be at least 1, got %d", c.Orchestrator.MaxAttempts)
	}
	if _, err := workflow.ParseBidExclusivity(c.Orchestrator.BidExclusivity); err != nil {
		return fmt.Errorf("orchestrator.bid_exclusivity: %w", err)
	}
	if c.Orchestrator.InvoicePaymentTerms < 0 {
		return fmt.Errorf("orchestrator.invoice_payment_terms must not be negative")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" || c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_id and lark.app_secret are required when lark is enabled")
		}
		if c.Lark.ReceiveID == "" {
			return fmt.Errorf("lark.receive_id is required when lark is enabled")
		}
	}

	if c.Sweeper.Enabled {
		if c.Sweeper.OverdueInterval <= 0 || c.Sweeper.BudgetExpiryInterval <= 0 {
			return fmt.Errorf("sweeper intervals must be positive")
		}
	}

	return nil
}
