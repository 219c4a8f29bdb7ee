package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	if _, err := cronParser.Parse(cfg.RetrySchedule); err != nil {
		errs = append(errs, ValidationError{
			Field:   "RETRY_SCHEDULE",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}

	if cfg.SiteURL != "" {
		if u, err := url.Parse(cfg.SiteURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "SITE_URL",
				Message: "must be an absolute URL",
			})
		}
	}

	if cfg.OperatorEmail != "" {
		if _, err := mail.ParseAddress(cfg.OperatorEmail); err != nil {
			errs = append(errs, ValidationError{
				Field:   "OPERATOR_EMAIL",
				Message: fmt.Sprintf("invalid address: %v", err),
			})
		}
	}

	if cfg.SMTPAddr != "" && cfg.SMTPFrom == "" {
		errs = append(errs, ValidationError{
			Field:   "SMTP_FROM",
			Message: "required when SMTP_ADDR is set",
		})
	}

	for field, value := range map[string]string{
		"DB_OP_TIMEOUT":            cfg.DBOpTimeoutStr,
		"DB_CONN_MAX_LIFETIME":     cfg.DBConnMaxLifetimeStr,
		"DB_CONN_MAX_IDLE_TIME":    cfg.DBConnMaxIdleTimeStr,
		"HTTP_SHUTDOWN_TIMEOUT":    cfg.HTTPShutdownTimeoutStr,
		"CIRCUIT_BREAKER_COOLDOWN": cfg.CircuitBreakerCooldownStr,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "must be positive",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
