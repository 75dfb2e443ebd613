package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}
	if c.JWT.AccessExpiry <= 0 {
		errs = append(errs, "JWT_ACCESS_EXPIRY must be positive")
	}

	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	switch c.Quota.Mode {
	case QuotaModeWeak, QuotaModeStrong:
	default:
		errs = append(errs, fmt.Sprintf("QUOTA_MODE must be %q or %q, got %q", QuotaModeWeak, QuotaModeStrong, c.Quota.Mode))
	}
	switch c.Quota.Reserver {
	case ReserverRedis, ReserverPostgres:
	default:
		errs = append(errs, fmt.Sprintf("QUOTA_RESERVER must be %q or %q, got %q", ReserverRedis, ReserverPostgres, c.Quota.Reserver))
	}
	if c.Quota.Mode == QuotaModeWeak {
		slog.Warn("QUOTA_MODE=weak: concurrent requests may exceed per-window limits")
	}

	if c.Dispatch.Timeout <= 0 {
		errs = append(errs, "DISPATCH_TIMEOUT must be positive")
	}
	if c.NATS.URL == "" {
		slog.Warn("NATS_URL is empty: AI dispatch and activity events are disabled")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
