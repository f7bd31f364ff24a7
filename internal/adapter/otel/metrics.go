package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "mailguard"

// Metrics holds all MailGuard metric instruments.
type Metrics struct {
	Verdicts            metric.Int64Counter
	VerdictsFailed      metric.Int64Counter
	SourceFailures      metric.Int64Counter
	SourceLatency       metric.Float64Histogram
	ApprovalTransitions metric.Int64Counter
	AuditFailures       metric.Int64Counter
	NarrativeFallbacks  metric.Int64Counter
	BreakerTransitions  metric.Int64Counter
	PipelineDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Verdicts, err = meter.Int64Counter("mailguard.verdicts",
		metric.WithDescription("Number of verdicts produced, by risk level"))
	if err != nil {
		return nil, err
	}

	m.VerdictsFailed, err = meter.Int64Counter("mailguard.verdicts.failed",
		metric.WithDescription("Number of requests that fell back to manual review"))
	if err != nil {
		return nil, err
	}

	m.SourceFailures, err = meter.Int64Counter("mailguard.source.failures",
		metric.WithDescription("Number of signal source failures, by source and kind"))
	if err != nil {
		return nil, err
	}

	m.SourceLatency, err = meter.Float64Histogram("mailguard.source.latency_seconds",
		metric.WithDescription("Signal source call latency in seconds"))
	if err != nil {
		return nil, err
	}

	m.ApprovalTransitions, err = meter.Int64Counter("mailguard.approval.transitions",
		metric.WithDescription("Number of action status transitions, by target status"))
	if err != nil {
		return nil, err
	}

	m.AuditFailures, err = meter.Int64Counter("mailguard.audit.failures",
		metric.WithDescription("Number of audit records dropped or not persisted"))
	if err != nil {
		return nil, err
	}

	m.NarrativeFallbacks, err = meter.Int64Counter("mailguard.narrative.fallbacks",
		metric.WithDescription("Number of explanations that used the template narrative"))
	if err != nil {
		return nil, err
	}

	m.BreakerTransitions, err = meter.Int64Counter("mailguard.breaker.transitions",
		metric.WithDescription("Number of circuit breaker state changes"))
	if err != nil {
		return nil, err
	}

	m.PipelineDuration, err = meter.Float64Histogram("mailguard.pipeline.duration_seconds",
		metric.WithDescription("End-to-end analysis duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
