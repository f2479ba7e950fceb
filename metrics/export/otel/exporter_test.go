package otel

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/portalauth"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot portalauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() portalauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := portalauth.MetricsSnapshot{
		Counters:   make(map[portalauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[portalauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: portalauth.MetricsSnapshot{
			Counters: map[portalauth.MetricID]uint64{
				portalauth.MetricSignInSuccess: 3,
			},
			Histograms: map[portalauth.MetricID][]uint64{
				portalauth.MetricGatewayLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(provider.Meter("portalauth-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	metrics := collect(t, reader)

	signIn, ok := metrics["portalauth_sign_in_success_total"].Data.(metricdata.Sum[int64])
	if !ok || len(signIn.DataPoints) != 1 || signIn.DataPoints[0].Value != 3 {
		t.Fatalf("unexpected sign-in counter: %+v", metrics["portalauth_sign_in_success_total"].Data)
	}

	buckets, ok := metrics["portalauth_gateway_latency_seconds_bucket"].Data.(metricdata.Gauge[int64])
	if !ok || len(buckets.DataPoints) != 8 {
		t.Fatalf("expected 8 bucket series, got %+v", metrics["portalauth_gateway_latency_seconds_bucket"].Data)
	}
	byLE := map[string]int64{}
	for _, dp := range buckets.DataPoints {
		le, _ := dp.Attributes.Value("le")
		byLE[le.AsString()] = dp.Value
	}
	if byLE["0.005"] != 1 || byLE["0.1"] != 5 || byLE["+Inf"] != 8 {
		t.Fatalf("unexpected cumulative buckets: %v", byLE)
	}

	count, ok := metrics["portalauth_gateway_latency_seconds_count"].Data.(metricdata.Gauge[int64])
	if !ok || count.DataPoints[0].Value != 8 {
		t.Fatalf("unexpected histogram count: %+v", metrics["portalauth_gateway_latency_seconds_count"].Data)
	}

	dropped, ok := metrics["portalauth_audit_dropped_total"].Data.(metricdata.Sum[int64])
	if !ok || dropped.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected audit dropped counter: %+v", metrics["portalauth_audit_dropped_total"].Data)
	}
}

func TestExporterSkipsDisabledHistogram(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{snapshot: portalauth.MetricsSnapshot{
		Counters:   map[portalauth.MetricID]uint64{portalauth.MetricSignOut: 2},
		Histograms: map[portalauth.MetricID][]uint64{},
	}}

	exp, err := NewOTelExporterFromSource(provider.Meter("portalauth-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	metrics := collect(t, reader)
	if _, ok := metrics["portalauth_gateway_latency_seconds_bucket"]; ok {
		t.Fatal("expected no histogram series while latency histograms are disabled")
	}
	if _, ok := metrics["portalauth_sign_out_total"]; !ok {
		t.Fatal("expected sign-out counter")
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("portalauth-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestCloseStopsObservation(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{snapshot: portalauth.MetricsSnapshot{
		Counters: map[portalauth.MetricID]uint64{portalauth.MetricSignOut: 2},
	}}
	exp, err := NewOTelExporterFromSource(provider.Meter("portalauth-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for name, m := range collect(t, reader) {
		if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
			t.Fatalf("expected no data points after Close, %s has %d", name, len(sum.DataPoints))
		}
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: portalauth.MetricsSnapshot{
			Counters: map[portalauth.MetricID]uint64{
				portalauth.MetricSignInSuccess: 1,
			},
			Histograms: map[portalauth.MetricID][]uint64{
				portalauth.MetricGatewayLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(provider.Meter("portalauth-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[portalauth.MetricSignInSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
