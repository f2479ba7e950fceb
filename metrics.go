package portalauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one lifecycle counter or histogram.
type MetricID uint16

const (
	MetricSignUpSuccess MetricID = iota
	MetricSignUpFailure
	MetricSignInSuccess
	MetricSignInFailure
	MetricSignOut
	MetricSignOutRemoteFailure
	MetricBootstrapSuccess
	MetricBootstrapFailure
	MetricProviderEvent
	MetricStaleResultDiscarded
	MetricSessionChanged
	MetricListenerPanic
	// MetricGatewayLatency is the only histogram: wall time of gateway calls.
	MetricGatewayLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the gateway latency
// buckets. A final bucket catches everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const latencyBucketCount = len(latencyBounds) + 1

// counterSlot keeps each hot counter on its own cache line.
type counterSlot struct {
	n atomic.Uint64
	_ [56]byte
}

// Metrics holds lock-free counters for the Engine. A nil or disabled Metrics
// ignores every call.
type Metrics struct {
	enabled bool
	latency bool

	counters [metricIDCount]counterSlot
	buckets  [latencyBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
// Histogram slices hold per-bucket (not cumulative) counts.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool { return m != nil && m.enabled }

func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= MetricGatewayLatency {
		return
	}
	m.counters[id].n.Add(1)
}

// Observe records d against MetricGatewayLatency; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricGatewayLatency {
		return
	}
	m.buckets[latencyBucket(d)].Add(1)
}

// Value returns the counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricGatewayLatency {
		return 0
	}
	return m.counters[id].n.Load()
}

// Snapshot copies every counter, plus the latency histogram when enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := MetricID(0); id < MetricGatewayLatency; id++ {
		s.Counters[id] = m.counters[id].n.Load()
	}
	if m.latency {
		hist := make([]uint64, latencyBucketCount)
		for i := range hist {
			hist[i] = m.buckets[i].Load()
		}
		s.Histograms[MetricGatewayLatency] = hist
	}
	return s
}

func latencyBucket(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
