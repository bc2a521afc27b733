// Package config defines the configuration for the lightalert service.
// Configuration is loaded once at process start and is immutable thereafter,
// following 12-Factor principles: values come from the OS environment, with a
// .env file as a development convenience. Any missing required value or
// invalid format aborts startup (fail fast).
package config

import "time"

// Config is the top-level configuration struct, populated once during process
// initialization and never modified. Sub-components receive only the subsets
// they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Email    EmailConfig
	Alerts   AlertConfig
	Sender   SenderConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// EmailConfig holds outbound email provider settings. An empty APIKey selects
// the stub provider (development mode, nothing leaves the process).
type EmailConfig struct {
	ResendAPIKey string `envconfig:"RESEND_API_KEY"`
	BaseURL      string `envconfig:"RESEND_BASE_URL"`
	FromAddress  string `envconfig:"EMAIL_FROM_ADDRESS" default:"alertas@lightalert.local"`
	FromName     string `envconfig:"EMAIL_FROM_NAME" default:"Sistema de Alertas"`
}

// AlertConfig holds consolidation tuning.
type AlertConfig struct {
	// LookbackHours bounds which unmessaged alerts a scheduled consolidation
	// run considers. On-demand runs may override it per request.
	LookbackHours int `envconfig:"ALERT_LOOKBACK_HOURS" default:"24"`

	// FallbackRecipients is an explicit, documented degraded mode: when no
	// contact matches an alert group AND this list is non-empty, the group is
	// sent here instead of being skipped. Empty (the default) means zero
	// resolvable recipients is a skip-and-log outcome.
	FallbackRecipients []string `envconfig:"ALERT_FALLBACK_RECIPIENTS"`
}

// SenderConfig tunes the external sender process.
type SenderConfig struct {
	MaxAttempts    int           `envconfig:"SEND_MAX_ATTEMPTS" default:"3"`
	ClaimBatch     int           `envconfig:"SEND_CLAIM_BATCH" default:"20"`
	AbandonedAfter time.Duration `envconfig:"SEND_ABANDONED_AFTER" default:"15m"`
	PollInterval   time.Duration `envconfig:"SEND_POLL_INTERVAL" default:"1m"`
	Concurrency    int           `envconfig:"SEND_CONCURRENCY" default:"4"`
}
