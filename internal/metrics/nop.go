// Package metrics provides internal metrics utilities for Conduit.
package metrics

import "github.com/dotindustries/conduit/types"

// NopMetrics is a no-op metrics collector that discards all metrics.
//
// This is used as the default metrics collector when no collector is
// configured, avoiding nil checks throughout the codebase.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements types.MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNopMetrics creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A collector that discards all metrics
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// IncQueryTotal discards the metric.
func (m *NopMetrics) IncQueryTotal() {}

// IncQueryError discards the metric.
func (m *NopMetrics) IncQueryError() {}

// ObserveQueryDuration discards the metric.
func (m *NopMetrics) ObserveQueryDuration(_ float64) {}

// IncSessionOpened discards the metric.
func (m *NopMetrics) IncSessionOpened() {}

// IncSessionDiscarded discards the metric.
func (m *NopMetrics) IncSessionDiscarded() {}

// IncPoolExhausted discards the metric.
func (m *NopMetrics) IncPoolExhausted() {}

// SetPoolSize discards the metric.
func (m *NopMetrics) SetPoolSize(_ int) {}

// SetPoolIdle discards the metric.
func (m *NopMetrics) SetPoolIdle(_ int) {}
