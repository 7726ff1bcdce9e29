// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator plus cross-field
//     scheduling sanity checks.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid
// debugging. It wraps a stage name and an underlying error.
type ConfigError struct {
	Stage   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the CrewBook configuration from the
// environment (with optional .env file). It fails fast on any missing
// required value or policy inconsistency.
func LoadConfig() (*Config, error) {
	// Enforce UTC for the whole process. All scheduling math assumes UTC
	// storage with business hours applied on the wall clock.
	time.Local = time.UTC

	// godotenv does not override variables already present in the
	// environment, and silently succeeds when no .env file exists.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Stage: "envconfig", Message: "failed to process environment", Err: err}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate runs struct-tag validation and cross-field scheduling checks.
func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return &ConfigError{Stage: "validate", Message: "invalid configuration", Err: err}
	}

	s := cfg.Scheduling
	if s.WorkdayEndHour <= s.WorkdayStartHour {
		return &ConfigError{
			Stage:   "validate",
			Message: fmt.Sprintf("WORK_END_HOUR (%d) must be after WORK_START_HOUR (%d)", s.WorkdayEndHour, s.WorkdayStartHour),
		}
	}
	if s.HalfDayRate >= s.FullDayRate {
		return &ConfigError{
			Stage:   "validate",
			Message: "HALF_DAY_RATE must be below FULL_DAY_RATE",
		}
	}
	if s.HourlyRate > s.HalfDayRate {
		return &ConfigError{
			Stage:   "validate",
			Message: "HOURLY_RATE must not exceed HALF_DAY_RATE",
		}
	}
	for _, d := range s.Holidays {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return &ConfigError{
				Stage:   "validate",
				Message: fmt.Sprintf("holiday %q is not a YYYY-MM-DD date", d),
				Err:     err,
			}
		}
	}
	return nil
}
