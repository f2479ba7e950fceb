// Package otel binds portalauth engine metrics to an OpenTelemetry meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter and
// an Int64ObservableGauge per latency bucket, all fed from a single callback
// that reads [portalauth.Engine.MetricsSnapshot]. The caller owns the
// MeterProvider.
package otel
