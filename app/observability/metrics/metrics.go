package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	SignupsTotal        metric.Int64Counter
	LoginsTotal         metric.Int64Counter
	LoginFailuresTotal  metric.Int64Counter
	ResetTokensIssued   metric.Int64Counter
	ResetTokensConsumed metric.Int64Counter
	ResetTokensRejected metric.Int64Counter
	HashDurationSeconds metric.Float64Histogram
	DbQueryErrorsTotal  metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// Get returns the global metric instruments, creating them on first use from
// the globally configured MeterProvider.
func Get() *AppMetrics {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("accounts-api")
		m := &AppMetrics{}
		var err error

		m.SignupsTotal, err = meter.Int64Counter(
			"signups_total",
			metric.WithDescription("Total number of completed signups"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create signups_total: %v", err)
		}

		m.LoginsTotal, err = meter.Int64Counter(
			"logins_total",
			metric.WithDescription("Total number of successful logins"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create logins_total: %v", err)
		}

		m.LoginFailuresTotal, err = meter.Int64Counter(
			"login_failures_total",
			metric.WithDescription("Total number of rejected logins"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create login_failures_total: %v", err)
		}

		m.ResetTokensIssued, err = meter.Int64Counter(
			"reset_tokens_issued_total",
			metric.WithDescription("Total number of password-reset tokens issued"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create reset_tokens_issued_total: %v", err)
		}

		m.ResetTokensConsumed, err = meter.Int64Counter(
			"reset_tokens_consumed_total",
			metric.WithDescription("Total number of password-reset tokens consumed"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create reset_tokens_consumed_total: %v", err)
		}

		m.ResetTokensRejected, err = meter.Int64Counter(
			"reset_tokens_rejected_total",
			metric.WithDescription("Total number of invalid or expired reset tokens rejected"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create reset_tokens_rejected_total: %v", err)
		}

		m.HashDurationSeconds, err = meter.Float64Histogram(
			"password_hash_duration_seconds",
			metric.WithDescription("Duration of password hashing in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create password_hash_duration_seconds: %v", err)
		}

		m.DbQueryErrorsTotal, err = meter.Int64Counter(
			"db_query_errors_total",
			metric.WithDescription("Total number of database query errors"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_errors_total: %v", err)
		}

		appMetrics = m
	})
	return appMetrics
}
