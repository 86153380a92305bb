// Package metrics exports gateway counters and latency histograms for Prometheus.
package metrics
