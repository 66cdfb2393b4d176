package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"goalstake-backend/internal/db"
)

type Config struct {
	DBDriver   string `env:"DB_DRIVER" envDefault:"postgres"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"goalstake.db"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	// empty disables POST /payments/deposits
	PaymentsJWTSecret string   `env:"PAYMENTS_JWT_SECRET"`
	CORSOrigins       []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
	RateLimitRPS      float64  `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst    int      `env:"RATE_LIMIT_BURST" envDefault:"20"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	SettleMaxAttempts  int           `env:"SETTLE_MAX_ATTEMPTS" envDefault:"8"`
	SettleBackoffBase  time.Duration `env:"SETTLE_BACKOFF_BASE" envDefault:"5ms"`
	AlarmWindowMinutes int           `env:"ALARM_WINDOW_MINUTES" envDefault:"10"`
	CollabRewardPool   string        `env:"COLLAB_REWARD_POOL" envDefault:"capped"`

	RedisAddr              string `env:"REDIS_ADDR"`
	SchedulerAlarmSpec     string `env:"SCHEDULER_ALARM_SPEC" envDefault:"@every 1m"`
	SchedulerExpirySpec    string `env:"SCHEDULER_EXPIRY_SPEC" envDefault:"@every 5m"`
	SchedulerReconcileSpec string `env:"SCHEDULER_RECONCILE_SPEC" envDefault:"@hourly"`
}

// Load reads an optional .env file, then the environment. Variables already set win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.DBDriver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %s or %s, got %q", db.DriverPostgres, db.DriverSQLite, c.DBDriver))
	}
	switch c.CollabRewardPool {
	case "capped", "uncapped":
	default:
		errs = append(errs, fmt.Errorf("COLLAB_REWARD_POOL must be capped or uncapped, got %q", c.CollabRewardPool))
	}
	if c.PaymentsJWTSecret != "" && c.PaymentsJWTSecret == c.JWTSecret {
		errs = append(errs, errors.New("PAYMENTS_JWT_SECRET must differ from JWT_SECRET"))
	}
	if c.SettleMaxAttempts < 1 {
		errs = append(errs, errors.New("SETTLE_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// DSN is the data source for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == db.DriverSQLite {
		return db.SQLiteDSN(c.SQLitePath)
	}
	return c.ConnString()
}
