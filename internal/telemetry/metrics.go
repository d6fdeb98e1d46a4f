package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/kiisha-io/kiisha"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Policy evaluation metrics
	PolicyChecksTotal  metric.Int64Counter
	PolicyDenialsTotal metric.Int64Counter
	UsageChargedTotal  metric.Int64Counter

	// Tenant resolution metrics
	ResolutionsTotal        metric.Int64Counter
	ResolutionFailuresTotal metric.Int64Counter

	// Approval workflow metrics
	ApprovalsCreatedTotal  metric.Int64Counter
	ApprovalsResolvedTotal metric.Int64Counter
	ApprovalsExpiredTotal  metric.Int64Counter

	// Channel metrics
	BindingCodesIssuedTotal   metric.Int64Counter
	BindingCodesConsumedTotal metric.Int64Counter
	ChannelMessagesTotal      metric.Int64Counter
	ChannelAmbiguousTotal     metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.PolicyChecksTotal, _ = meter.Int64Counter(
		"kiisha.policy.checks.total",
		metric.WithDescription("Total number of capability policy checks"),
		metric.WithUnit("{check}"),
	)

	m.PolicyDenialsTotal, _ = meter.Int64Counter(
		"kiisha.policy.denials.total",
		metric.WithDescription("Total number of denied capability checks"),
		metric.WithUnit("{check}"),
	)

	m.UsageChargedTotal, _ = meter.Int64Counter(
		"kiisha.policy.usage.charged.total",
		metric.WithDescription("Total number of capability invocations charged"),
		metric.WithUnit("{invocation}"),
	)

	m.ResolutionsTotal, _ = meter.Int64Counter(
		"kiisha.tenancy.resolutions.total",
		metric.WithDescription("Total number of tenant resolutions"),
		metric.WithUnit("{resolution}"),
	)

	m.ResolutionFailuresTotal, _ = meter.Int64Counter(
		"kiisha.tenancy.resolution.failures.total",
		metric.WithDescription("Total number of failed tenant resolutions"),
		metric.WithUnit("{resolution}"),
	)

	m.ApprovalsCreatedTotal, _ = meter.Int64Counter(
		"kiisha.approvals.created.total",
		metric.WithDescription("Total number of approval requests created"),
		metric.WithUnit("{request}"),
	)

	m.ApprovalsResolvedTotal, _ = meter.Int64Counter(
		"kiisha.approvals.resolved.total",
		metric.WithDescription("Total number of approval requests approved or rejected"),
		metric.WithUnit("{request}"),
	)

	m.ApprovalsExpiredTotal, _ = meter.Int64Counter(
		"kiisha.approvals.expired.total",
		metric.WithDescription("Total number of approval requests expired"),
		metric.WithUnit("{request}"),
	)

	m.BindingCodesIssuedTotal, _ = meter.Int64Counter(
		"kiisha.channel.binding_codes.issued.total",
		metric.WithDescription("Total number of binding codes issued"),
		metric.WithUnit("{code}"),
	)

	m.BindingCodesConsumedTotal, _ = meter.Int64Counter(
		"kiisha.channel.binding_codes.consumed.total",
		metric.WithDescription("Total number of binding codes redeemed"),
		metric.WithUnit("{code}"),
	)

	m.ChannelMessagesTotal, _ = meter.Int64Counter(
		"kiisha.channel.messages.total",
		metric.WithDescription("Total number of inbound channel messages resolved"),
		metric.WithUnit("{message}"),
	)

	m.ChannelAmbiguousTotal, _ = meter.Int64Counter(
		"kiisha.channel.messages.ambiguous.total",
		metric.WithDescription("Total number of inbound channel messages with ambiguous workspace"),
		metric.WithUnit("{message}"),
	)

	return m
}
