package monitoring

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// MonitoringMetrics defines metrics operations needed by the orchestrator.
type MonitoringMetrics interface {
	IncSignalsApplied(ctx context.Context)
	IncSignalsDropped(ctx context.Context)
	IncEventsEmitted(ctx context.Context, count int)
	IncSinkFailures(ctx context.Context)
	IncInstancesCreated(ctx context.Context)
	IncInstancesEvicted(ctx context.Context, count int)
	ObserveSignalApplyTime(ctx context.Context, duration time.Duration)
}

type monitoringMetrics struct {
	signalsApplied   metric.Int64Counter
	signalsDropped   metric.Int64Counter
	eventsEmitted    metric.Int64Counter
	sinkFailures     metric.Int64Counter
	instancesCreated metric.Int64Counter
	instancesEvicted metric.Int64Counter
	signalApplyTime  metric.Float64Histogram
}

const namespace = "monitor"

// NewMonitoringMetrics creates a new monitoring metrics instance.
func NewMonitoringMetrics(mp metric.MeterProvider) (*monitoringMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(monitoringMetrics)
	var err error

	if m.signalsApplied, err = meter.Int64Counter(
		"signals_applied_total",
		metric.WithDescription("Total number of job-state signals applied"),
	); err != nil {
		return nil, err
	}

	if m.signalsDropped, err = meter.Int64Counter(
		"signals_dropped_total",
		metric.WithDescription("Total number of signals dropped for unknown job names"),
	); err != nil {
		return nil, err
	}

	if m.eventsEmitted, err = meter.Int64Counter(
		"events_emitted_total",
		metric.WithDescription("Total number of normalized events sent to the sink"),
	); err != nil {
		return nil, err
	}

	if m.sinkFailures, err = meter.Int64Counter(
		"sink_failures_total",
		metric.WithDescription("Total number of sink delivery failures"),
	); err != nil {
		return nil, err
	}

	if m.instancesCreated, err = meter.Int64Counter(
		"job_instances_created_total",
		metric.WithDescription("Total number of job instances created"),
	); err != nil {
		return nil, err
	}

	if m.instancesEvicted, err = meter.Int64Counter(
		"job_instances_evicted_total",
		metric.WithDescription("Total number of terminal job instances evicted"),
	); err != nil {
		return nil, err
	}

	if m.signalApplyTime, err = meter.Float64Histogram(
		"signal_apply_duration_seconds",
		metric.WithDescription("Time taken to apply one signal"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *monitoringMetrics) IncSignalsApplied(ctx context.Context) {
	m.signalsApplied.Add(ctx, 1)
}

func (m *monitoringMetrics) IncSignalsDropped(ctx context.Context) {
	m.signalsDropped.Add(ctx, 1)
}

func (m *monitoringMetrics) IncEventsEmitted(ctx context.Context, count int) {
	m.eventsEmitted.Add(ctx, int64(count))
}

func (m *monitoringMetrics) IncSinkFailures(ctx context.Context) {
	m.sinkFailures.Add(ctx, 1)
}

func (m *monitoringMetrics) IncInstancesCreated(ctx context.Context) {
	m.instancesCreated.Add(ctx, 1)
}

func (m *monitoringMetrics) IncInstancesEvicted(ctx context.Context, count int) {
	m.instancesEvicted.Add(ctx, int64(count))
}

func (m *monitoringMetrics) ObserveSignalApplyTime(ctx context.Context, duration time.Duration) {
	m.signalApplyTime.Record(ctx, duration.Seconds())
}
