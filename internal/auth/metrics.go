package auth

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the authenticator's OpenTelemetry instruments.
type Metrics struct {
	VerifyAttempts metric.Int64Counter
	VerifySuccess  metric.Int64Counter
	VerifyFailures metric.Int64Counter

	AutoLoginAttempts metric.Int64Counter
	AutoLoginSuccess  metric.Int64Counter
	AutoLoginFailures metric.Int64Counter

	OperationDuration metric.Float64Histogram

	HwidMismatches metric.Int64Counter
	SecurityEvents metric.Int64Counter
	WatchdogFires  metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.VerifyAttempts, "auth_verify_attempts_total", "Total number of license verification attempts"},
		{&m.VerifySuccess, "auth_verify_success_total", "Total number of successful license verifications"},
		{&m.VerifyFailures, "auth_verify_failures_total", "Total number of failed license verifications"},
		{&m.AutoLoginAttempts, "auth_autologin_attempts_total", "Total number of auto-login attempts"},
		{&m.AutoLoginSuccess, "auth_autologin_success_total", "Total number of successful auto-logins"},
		{&m.AutoLoginFailures, "auth_autologin_failures_total", "Total number of failed auto-logins"},
		{&m.HwidMismatches, "auth_hwid_mismatch_total", "Total number of device fingerprint mismatches"},
		{&m.SecurityEvents, "auth_security_events_total", "Total number of security events that wiped stored auth"},
		{&m.WatchdogFires, "auth_watchdog_timeouts_total", "Total number of async operations ended by the watchdog"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.OperationDuration, err = meter.Float64Histogram(
		"auth_operation_duration_seconds",
		metric.WithDescription("Authentication operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordVerify(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("operation", "verify"),
		attribute.String("outcome", classifyError(err)),
	)
	m.VerifyAttempts.Add(ctx, 1, labels)
	m.OperationDuration.Record(ctx, duration.Seconds(), labels)
	if err == nil {
		m.VerifySuccess.Add(ctx, 1, labels)
	} else {
		m.VerifyFailures.Add(ctx, 1, labels)
	}
}

func (m *Metrics) recordAutoLogin(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("operation", "autologin"),
		attribute.String("outcome", classifyError(err)),
	)
	m.AutoLoginAttempts.Add(ctx, 1, labels)
	m.OperationDuration.Record(ctx, duration.Seconds(), labels)
	if err == nil {
		m.AutoLoginSuccess.Add(ctx, 1, labels)
	} else {
		m.AutoLoginFailures.Add(ctx, 1, labels)
	}
}

func (m *Metrics) recordSecurityEvent(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(attribute.String("reason", reason))
	m.SecurityEvents.Add(ctx, 1, labels)
	if reason == reasonHwidMismatch {
		m.HwidMismatches.Add(ctx, 1)
	}
}

func (m *Metrics) recordWatchdog(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.WatchdogFires.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}
