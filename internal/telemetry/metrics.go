package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/leadlink"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Turn metrics
	TurnsProcessedTotal metric.Int64Counter
	TurnsFailedTotal    metric.Int64Counter
	TurnDuration        metric.Float64Histogram
	InboundDuplicates   metric.Int64Counter

	// NLU collaborator metrics
	NLUCallDuration   metric.Float64Histogram
	NLUFailuresTotal  metric.Int64Counter
	SalesAlertsTotal  metric.Int64Counter
	NotifyErrorsTotal metric.Int64Counter

	// Identity metrics
	LeadsCreatedTotal metric.Int64Counter
	MergesTotal       metric.Int64Counter
	MergedTurnsTotal  metric.Int64Counter

	// Store metrics
	StoreRetriesTotal metric.Int64Counter
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

	// Turn metrics
	m.TurnsProcessedTotal, _ = meter.Int64Counter(
		"leadlink.turns.processed.total",
		metric.WithDescription("Total number of inbound turns fully persisted"),
		metric.WithUnit("{turn}"),
	)

	m.TurnsFailedTotal, _ = meter.Int64Counter(
		"leadlink.turns.failed.total",
		metric.WithDescription("Total number of inbound turns abandoned without writes"),
		metric.WithUnit("{turn}"),
	)

	m.TurnDuration, _ = meter.Float64Histogram(
		"leadlink.turns.duration",
		metric.WithDescription("Duration of turn processing including the NLU call"),
		metric.WithUnit("ms"),
	)

	m.InboundDuplicates, _ = meter.Int64Counter(
		"leadlink.turns.duplicates.total",
		metric.WithDescription("Total number of redelivered channel messages skipped"),
		metric.WithUnit("{message}"),
	)

	// NLU collaborator metrics
	m.NLUCallDuration, _ = meter.Float64Histogram(
		"leadlink.nlu.call.duration",
		metric.WithDescription("Duration of NLU collaborator calls"),
		metric.WithUnit("ms"),
	)

	m.NLUFailuresTotal, _ = meter.Int64Counter(
		"leadlink.nlu.failures.total",
		metric.WithDescription("Total number of failed or timed out NLU calls"),
		metric.WithUnit("{call}"),
	)

	m.SalesAlertsTotal, _ = meter.Int64Counter(
		"leadlink.notify.sales_alerts.total",
		metric.WithDescription("Total number of sales alerts raised"),
		metric.WithUnit("{alert}"),
	)

	m.NotifyErrorsTotal, _ = meter.Int64Counter(
		"leadlink.notify.errors.total",
		metric.WithDescription("Total number of notifications that failed to publish"),
		metric.WithUnit("{error}"),
	)

	// Identity metrics
	m.LeadsCreatedTotal, _ = meter.Int64Counter(
		"leadlink.leads.created.total",
		metric.WithDescription("Total number of leads created under a new dedup key"),
		metric.WithUnit("{lead}"),
	)

	m.MergesTotal, _ = meter.Int64Counter(
		"leadlink.leads.merges.total",
		metric.WithDescription("Total number of merge evaluations by outcome"),
		metric.WithUnit("{merge}"),
	)

	m.MergedTurnsTotal, _ = meter.Int64Counter(
		"leadlink.leads.merged_turns.total",
		metric.WithDescription("Total number of turns reassigned by merges"),
		metric.WithUnit("{turn}"),
	)

	// Store metrics
	m.StoreRetriesTotal, _ = meter.Int64Counter(
		"leadlink.store.retries.total",
		metric.WithDescription("Total number of transactions retried after a conflict"),
		metric.WithUnit("{retry}"),
	)

	return m
}
