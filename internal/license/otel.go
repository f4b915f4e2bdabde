package license

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName identifies the license instruments.
const MeterName = "licctl.license"

// Metrics holds the license-specific OpenTelemetry instruments. All
// instruments degrade to no-ops when no meter provider is installed,
// so the one-shot CLI records nothing while the web server scrapes
// real counters.
type Metrics struct {
	IssueTotal     metric.Int64Counter
	IssueDuration  metric.Float64Histogram
	VerifyTotal    metric.Int64Counter
	VerifyDuration metric.Float64Histogram
}

// NewMetrics creates the license instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)

	issueTotal, err := meter.Int64Counter("license_issue_total",
		metric.WithDescription("Number of license issuance attempts by result"))
	if err != nil {
		return nil, err
	}
	issueDuration, err := meter.Float64Histogram("license_issue_duration_seconds",
		metric.WithDescription("License issuance duration in seconds"))
	if err != nil {
		return nil, err
	}
	verifyTotal, err := meter.Int64Counter("license_verify_total",
		metric.WithDescription("Number of license verifications by result"))
	if err != nil {
		return nil, err
	}
	verifyDuration, err := meter.Float64Histogram("license_verify_duration_seconds",
		metric.WithDescription("License verification duration in seconds"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		IssueTotal:     issueTotal,
		IssueDuration:  issueDuration,
		VerifyTotal:    verifyTotal,
		VerifyDuration: verifyDuration,
	}, nil
}

func (m *Metrics) recordIssue(ctx context.Context, start time.Time, result string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.IssueTotal.Add(ctx, 1, attrs)
	m.IssueDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func (m *Metrics) recordVerify(ctx context.Context, start time.Time, code ResultCode) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", string(code)))
	m.VerifyTotal.Add(ctx, 1, attrs)
	m.VerifyDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}
