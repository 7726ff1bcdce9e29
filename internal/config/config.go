// Package config defines the global configuration structure for the CrewBook
// scheduling service. Configuration is loaded once at process initialization
// and is immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast).
package config

import (
	"time"

	"crewbook/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the CrewBook service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"crewbook"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server     ServerConfig
	Database   DatabaseConfig
	AWS        AWSConfig
	CRM        CRMConfig
	Weather    WeatherConfig
	Scheduling SchedulingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
// OutcomeQueue is the SQS queue consumed by the notification component.
type AWSConfig struct {
	Region       string `envconfig:"AWS_REGION" default:"us-east-1"`
	OutcomeQueue string `envconfig:"SQS_OUTCOMES"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// CRMConfig holds credentials and endpoints for the external CRM (Jobber).
// WebhookSecret signs inbound webhooks with HMAC-SHA256.
type CRMConfig struct {
	APIBase       string       `envconfig:"JOBBER_API_BASE" default:"https://api.getjobber.com/api"`
	ClientID      string       `envconfig:"JOBBER_CLIENT_ID"`
	ClientSecret  SecretString `envconfig:"JOBBER_CLIENT_SECRET"`
	WebhookSecret SecretString `envconfig:"JOBBER_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"JOBBER_TIMEOUT" default:"10s"`
}

// WeatherConfig holds the forecast provider credentials and gate policy.
type WeatherConfig struct {
	APIBase string       `envconfig:"OPENWEATHER_API_BASE" default:"https://api.openweathermap.org/data/2.5"`
	APIKey  SecretString `envconfig:"OPENWEATHER_API_KEY"`
	Timeout time.Duration `envconfig:"OPENWEATHER_TIMEOUT" default:"5s"`

	// MaxPOP is the precipitation probability above which a date is rejected.
	MaxPOP float64 `envconfig:"WEATHER_MAX_POP" default:"0.5" validate:"gte=0,lte=1"`

	// Staleness is the maximum age of a cached forecast before refetch.
	Staleness time.Duration `envconfig:"WEATHER_STALENESS" default:"6h"`

	// FailOpen controls outage behavior: when true, an unreachable weather
	// service accepts the date with a degraded-mode warning; when false the
	// booking attempt fails. Deliberate availability-over-precision
	// trade-off, kept configurable because it is a business policy choice.
	FailOpen bool `envconfig:"WEATHER_FAIL_OPEN" default:"true"`
}

// SchedulingConfig holds business-hours, thresholds, and horizon policy for
// the scheduling engine.
type SchedulingConfig struct {
	// Business hours (local wall-clock hours, half-open [Start, End)).
	WorkdayStartHour int `envconfig:"WORK_START_HOUR" default:"9" validate:"gte=0,lt=24"`
	WorkdayEndHour   int `envconfig:"WORK_END_HOUR" default:"17" validate:"gte=1,lte=24"`

	// ExcludeFriday removes Friday from new-booking candidates. Reschedules
	// and compaction may still land on Friday.
	ExcludeFriday bool `envconfig:"EXCLUDE_FRIDAY" default:"false"`

	// Holidays is a comma-separated list of YYYY-MM-DD dates.
	Holidays []string `envconfig:"HOLIDAYS" default:"2025-01-01,2025-07-01,2025-12-25"`

	// GraceBuffer is the minimum idle time between two visits on one crew.
	GraceBuffer time.Duration `envconfig:"GRACE_BUFFER" default:"30m"`

	// CandidateStep is the increment between slot candidates within a day.
	CandidateStep time.Duration `envconfig:"CANDIDATE_STEP" default:"30m"`

	// SearchHorizonDays bounds the availability search.
	SearchHorizonDays int `envconfig:"SEARCH_HORIZON_DAYS" default:"30" validate:"gt=0"`

	// RecheckHorizon is the window within which weather-accepted bookings are
	// confirmed immediately; beyond it they stay tentative pending the sweep.
	RecheckHorizon time.Duration `envconfig:"RECHECK_HORIZON" default:"48h"`

	// CompactionProtection keeps near-term visits undisturbed by compaction.
	CompactionProtection time.Duration `envconfig:"COMPACTION_PROTECTION" default:"24h"`

	// Duration estimation rates, in dollars.
	FullDayRate float64 `envconfig:"FULL_DAY_RATE" default:"1440" validate:"gt=0"`
	HalfDayRate float64 `envconfig:"HALF_DAY_RATE" default:"720" validate:"gt=0"`
	HourlyRate  float64 `envconfig:"HOURLY_RATE" default:"180" validate:"gt=0"`

	// Crew identifiers for job-tag routing.
	ResidentialCrew string `envconfig:"RESIDENTIAL_CREW" default:"residential_crew"`
	CommercialCrew  string `envconfig:"COMMERCIAL_CREW" default:"commercial_crew"`
}

// WorkdayHours returns the number of workable hours in one business day.
func (s SchedulingConfig) WorkdayHours() int {
	return s.WorkdayEndHour - s.WorkdayStartHour
}

// HolidaySet returns the configured holidays as a lookup set keyed by
// YYYY-MM-DD.
func (s SchedulingConfig) HolidaySet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Holidays))
	for _, d := range s.Holidays {
		if d != "" {
			set[d] = struct{}{}
		}
	}
	return set
}
