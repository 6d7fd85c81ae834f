package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/srec-ev/tracker/internal/engine"
	"github.com/srec-ev/tracker/internal/server"
)

// registerMetrics exposes engine totals and renderer count as observable
// gauges.
func registerMetrics(m metric.Meter, eng *engine.Engine, hub *server.Hub) error {
	vehicles, err := m.Int64ObservableGauge("tracker.vehicles",
		metric.WithDescription("Vehicles in the registry"))
	if err != nil {
		return fmt.Errorf("creating vehicles gauge: %w", err)
	}
	positions, err := m.Int64ObservableCounter("tracker.positions.accepted",
		metric.WithDescription("Position records accepted"))
	if err != nil {
		return fmt.Errorf("creating positions counter: %w", err)
	}
	rejected, err := m.Int64ObservableCounter("tracker.positions.rejected",
		metric.WithDescription("Position records rejected"))
	if err != nil {
		return fmt.Errorf("creating rejected counter: %w", err)
	}
	alerts, err := m.Int64ObservableCounter("tracker.alerts",
		metric.WithDescription("Alerts accepted"))
	if err != nil {
		return fmt.Errorf("creating alerts counter: %w", err)
	}
	renderers, err := m.Int64ObservableGauge("tracker.renderers",
		metric.WithDescription("Connected renderers"))
	if err != nil {
		return fmt.Errorf("creating renderers gauge: %w", err)
	}

	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		st := eng.Stats()
		o.ObserveInt64(vehicles, int64(st.Vehicles))
		o.ObserveInt64(positions, int64(st.Positions))
		o.ObserveInt64(rejected, int64(st.Rejected))
		o.ObserveInt64(alerts, int64(st.Alerts))
		o.ObserveInt64(renderers, int64(hub.Clients()))
		return nil
	}, vehicles, positions, rejected, alerts, renderers)
	if err != nil {
		return fmt.Errorf("registering metrics callback: %w", err)
	}
	return nil
}
