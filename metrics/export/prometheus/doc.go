// Package prometheus exposes portalauth engine metrics as a
// prometheus.Collector.
//
// Counters are named portalauth_*_total; the gateway latency histogram is
// portalauth_gateway_latency_seconds. Callers either Register the exporter
// with their own registry or mount Handler, which uses a private one. The
// exporter never registers with the global default registry.
package prometheus
