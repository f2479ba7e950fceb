package internaldefs

import (
	"github.com/MrEthical07/portalauth"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   portalauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   portalauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: portalauth.MetricSignUpSuccess, Name: "portalauth_sign_up_success_total", Help: "Successful sign-ups."},
	{ID: portalauth.MetricSignUpFailure, Name: "portalauth_sign_up_failure_total", Help: "Failed sign-ups."},
	{ID: portalauth.MetricSignInSuccess, Name: "portalauth_sign_in_success_total", Help: "Successful password sign-ins."},
	{ID: portalauth.MetricSignInFailure, Name: "portalauth_sign_in_failure_total", Help: "Failed password sign-ins."},
	{ID: portalauth.MetricSignOut, Name: "portalauth_sign_out_total", Help: "Sign-outs applied to the store."},
	{ID: portalauth.MetricSignOutRemoteFailure, Name: "portalauth_sign_out_remote_failure_total", Help: "Sign-outs whose remote invalidation failed."},
	{ID: portalauth.MetricBootstrapSuccess, Name: "portalauth_bootstrap_success_total", Help: "Bootstraps that loaded the persisted session."},
	{ID: portalauth.MetricBootstrapFailure, Name: "portalauth_bootstrap_failure_total", Help: "Bootstraps that fell back to anonymous."},
	{ID: portalauth.MetricProviderEvent, Name: "portalauth_provider_event_total", Help: "Provider-originated session events."},
	{ID: portalauth.MetricStaleResultDiscarded, Name: "portalauth_stale_result_discarded_total", Help: "Results discarded because a newer operation was already applied."},
	{ID: portalauth.MetricSessionChanged, Name: "portalauth_session_changed_total", Help: "Store changes delivered to subscribers."},
	{ID: portalauth.MetricListenerPanic, Name: "portalauth_listener_panic_total", Help: "Subscriber panics recovered by the store."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: portalauth.MetricGatewayLatency, Name: "portalauth_gateway_latency_seconds", Help: "Gateway call latency."},
}

// AuditDroppedName and AuditDroppedHelp describe the dispatcher drop counter.
const (
	AuditDroppedName = "portalauth_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// engine bucket is +Inf and has no entry here.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten buckets into separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
