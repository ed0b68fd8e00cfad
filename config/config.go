/*
config.go - Service configuration

PURPOSE:
  Loads the server configuration in three layers: built-in defaults,
  an optional TOML file, then BUDGET_* environment variables. The
  result is validated before the server or any CLI command uses it.

SEE ALSO:
  - cmd/server/main.go: flags override the loaded values
  - budget/variance.go: Thresholds built from VarianceConfig
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/store/sqlite"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Log       LogConfig       `toml:"log"`
	Auth      AuthConfig      `toml:"auth"`
	Variance  VarianceConfig  `toml:"variance"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Notify    NotifyConfig    `toml:"notify"`
}

type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string `toml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AuthConfig controls tenant resolution. With a JWT secret set, the
// tenant comes from the token's tenant_id claim; otherwise from
// TenantHeader.
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret,omitempty"`
	TenantHeader string `toml:"tenant_header"`
}

type VarianceConfig struct {
	WarningPercent  string `toml:"warning_percent"`
	CriticalPercent string `toml:"critical_percent"`
	Concurrency     int    `toml:"concurrency"`
}

type SchedulerConfig struct {
	Enabled bool   `toml:"enabled"`
	Spec    string `toml:"spec"`
}

// NotifyConfig configures CRITICAL alert e-mails. An empty SMTPHost
// disables e-mail and alerts are only logged.
type NotifyConfig struct {
	SMTPHost     string   `toml:"smtp_host,omitempty"`
	SMTPPort     int      `toml:"smtp_port"`
	SMTPUsername string   `toml:"smtp_username,omitempty"`
	SMTPPassword string   `toml:"smtp_password,omitempty"`
	From         string   `toml:"from,omitempty"`
	To           []string `toml:"to,omitempty"`
}

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{15 * time.Second},
			ShutdownTimeout: Duration{10 * time.Second},
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Driver: sqlite.DriverSQLite3,
			DSN:    "budget.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Auth: AuthConfig{
			TenantHeader: "X-Tenant-ID",
		},
		Variance: VarianceConfig{
			WarningPercent:  "80",
			CriticalPercent: "110",
			Concurrency:     4,
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
			Spec:    "@every 1h",
		},
		Notify: NotifyConfig{
			SMTPPort: 587,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path or a missing file yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("reading config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Save writes cfg as TOML.
func Save(path string, cfg Config) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("BUDGET_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BUDGET_PORT: %w", err)
		}
		c.Server.Port = port
	}
	setString(&c.Database.Driver, "BUDGET_DB_DRIVER")
	setString(&c.Database.DSN, "BUDGET_DB_DSN")
	setString(&c.Log.Level, "BUDGET_LOG_LEVEL")
	setString(&c.Log.Format, "BUDGET_LOG_FORMAT")
	setString(&c.Auth.JWTSecret, "BUDGET_JWT_SECRET")
	setString(&c.Notify.SMTPPassword, "BUDGET_SMTP_PASSWORD")
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

// Validate checks the values a running server depends on.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be within 1..65535, got %d", c.Server.Port)
	}
	if !slices.Contains(sqlite.Drivers, c.Database.Driver) {
		return fmt.Errorf("database.driver must be one of %v, got %q", sqlite.Drivers, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if _, err := c.Thresholds(); err != nil {
		return err
	}
	if c.Variance.Concurrency < 1 {
		return fmt.Errorf("variance.concurrency must be positive, got %d", c.Variance.Concurrency)
	}
	if c.Auth.JWTSecret == "" && c.Auth.TenantHeader == "" {
		return errors.New("auth.tenant_header is required when no jwt_secret is set")
	}
	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
			return fmt.Errorf("scheduler.spec %q: %w", c.Scheduler.Spec, err)
		}
	}
	if c.Notify.SMTPHost != "" && (c.Notify.From == "" || len(c.Notify.To) == 0) {
		return errors.New("notify.from and notify.to are required when notify.smtp_host is set")
	}
	return nil
}

// Thresholds converts the variance section into classifier thresholds.
func (c Config) Thresholds() (budget.Thresholds, error) {
	warn, err := decimal.NewFromString(c.Variance.WarningPercent)
	if err != nil {
		return budget.Thresholds{}, fmt.Errorf("variance.warning_percent: %w", err)
	}
	crit, err := decimal.NewFromString(c.Variance.CriticalPercent)
	if err != nil {
		return budget.Thresholds{}, fmt.Errorf("variance.critical_percent: %w", err)
	}
	th := budget.Thresholds{WarningPercent: warn, CriticalPercent: crit}
	return th, th.Validate()
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
