package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "aiscript"

// Job outcomes recorded on aiscript.jobs.total.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
)

// Metrics holds the instruments for the gateway and the dispatcher.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	joinsTotal          metric.Int64Counter
	leavesTotal         metric.Int64Counter
	jobsTotal           metric.Int64Counter
	jobDuration         metric.Float64Histogram
	eventsRejected      metric.Int64Counter
	connectionsCurrent  metric.Int64UpDownCounter
	queueDepthGauge     metric.Int64ObservableGauge
	queueDepthRegistrar metric.Registration
}

// NewMetrics creates instruments on the global MeterProvider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates instruments on provider.
func NewMetricsWithProvider(provider metric.MeterProvider) (*Metrics, error) {
	m := &Metrics{meter: provider.Meter(meterName)}

	var err error

	m.joinsTotal, err = m.meter.Int64Counter(
		"aiscript.queue.joins.total",
		metric.WithDescription("Members admitted to a queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create joinsTotal counter: %w", err)
	}

	m.leavesTotal, err = m.meter.Int64Counter(
		"aiscript.queue.leaves.total",
		metric.WithDescription("Members removed from a queue by leave requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create leavesTotal counter: %w", err)
	}

	m.jobsTotal, err = m.meter.Int64Counter(
		"aiscript.jobs.total",
		metric.WithDescription("Settled generation jobs by queue and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create jobsTotal counter: %w", err)
	}

	m.jobDuration, err = m.meter.Float64Histogram(
		"aiscript.job.duration",
		metric.WithDescription("Generation job duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create jobDuration histogram: %w", err)
	}

	m.eventsRejected, err = m.meter.Int64Counter(
		"aiscript.events.rejected.total",
		metric.WithDescription("Inbound events rejected by validation or rate limiting"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create eventsRejected counter: %w", err)
	}

	m.connectionsCurrent, err = m.meter.Int64UpDownCounter(
		"aiscript.connections.current",
		metric.WithDescription("Open WebSocket connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsCurrent gauge: %w", err)
	}

	m.queueDepthGauge, err = m.meter.Int64ObservableGauge(
		"aiscript.queue.depth",
		metric.WithDescription("Members waiting per queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queueDepth gauge: %w", err)
	}

	return m, nil
}

// ObserveQueueDepth reports sizes() on every collection. sizes returns depth by queue name.
func (m *Metrics) ObserveQueueDepth(sizes func() map[string]int) error {
	if m == nil {
		return nil
	}

	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for queue, size := range sizes() {
			o.ObserveInt64(m.queueDepthGauge, int64(size), metric.WithAttributes(attribute.String("queue", queue)))
		}
		return nil
	}, m.queueDepthGauge)
	if err != nil {
		return fmt.Errorf("failed to register queue depth callback: %w", err)
	}
	m.queueDepthRegistrar = reg
	return nil
}

// Close unregisters observable callbacks.
func (m *Metrics) Close() error {
	if m == nil || m.queueDepthRegistrar == nil {
		return nil
	}
	return m.queueDepthRegistrar.Unregister()
}

func (m *Metrics) RecordJoin(ctx context.Context, queue string) {
	if m == nil {
		return
	}
	m.joinsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

func (m *Metrics) RecordLeave(ctx context.Context, queue string, removed int) {
	if m == nil || removed == 0 {
		return
	}
	m.leavesTotal.Add(ctx, int64(removed), metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordJob records one settled job.
func (m *Metrics) RecordJob(ctx context.Context, queue, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("outcome", outcome),
	)
	m.jobsTotal.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) RecordEventRejected(ctx context.Context, event, reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsCurrent.Add(ctx, 1)
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsCurrent.Add(ctx, -1)
}
