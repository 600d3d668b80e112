package sweep

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "caseline/sweep"

type metrics struct {
	sweeps       metric.Int64Counter
	alertsOpened metric.Int64Counter
	caseFailures metric.Int64Counter
	breached     metric.Int64Counter
	duration     metric.Float64Histogram
}

// newMetrics uses the global meter provider, a no-op until one is installed.
func newMetrics() metrics {
	meter := otel.Meter(meterName)
	var m metrics
	m.sweeps, _ = meter.Int64Counter("caseline.sweep.runs",
		metric.WithDescription("Completed sweeps"),
		metric.WithUnit("{sweep}"),
	)
	m.alertsOpened, _ = meter.Int64Counter("caseline.alerts.opened",
		metric.WithDescription("Alerts opened by sweeps"),
		metric.WithUnit("{alert}"),
	)
	m.caseFailures, _ = meter.Int64Counter("caseline.sweep.case_failures",
		metric.WithDescription("Cases whose evaluation failed during a sweep"),
		metric.WithUnit("{case}"),
	)
	m.breached, _ = meter.Int64Counter("caseline.alerts.breached",
		metric.WithDescription("Alerts stamped as SLA breached"),
		metric.WithUnit("{alert}"),
	)
	m.duration, _ = meter.Float64Histogram("caseline.sweep.duration",
		metric.WithDescription("Sweep duration in seconds"),
		metric.WithUnit("s"),
	)
	return m
}

func (m metrics) record(ctx context.Context, r Report) {
	if m.sweeps == nil {
		return
	}
	m.sweeps.Add(ctx, 1)
	m.alertsOpened.Add(ctx, int64(r.AlertsCreated))
	m.caseFailures.Add(ctx, int64(len(r.Failures)))
	for source, n := range r.Breached {
		m.breached.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
	}
	m.duration.Record(ctx, r.FinishedAt.Sub(r.StartedAt).Seconds())
}
