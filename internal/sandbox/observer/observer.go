// Package observer defines metrics hooks for sandbox execution.
package observer

import "context"

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64)
	ObserveRun(ctx context.Context, languageID string, outcome string, wallTimeMs int64, memoryKB int64)
}

// AdmissionRecorder records worker pool admission metrics.
type AdmissionRecorder interface {
	ObserveAdmission(outcome string)
	SetInflight(n int64)
	SetQueued(n int64)
}

// NoopMetricsRecorder is a default recorder that does nothing.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64) {
}

func (NoopMetricsRecorder) ObserveRun(ctx context.Context, languageID string, outcome string, wallTimeMs int64, memoryKB int64) {
}

func (NoopMetricsRecorder) ObserveAdmission(outcome string) {}

func (NoopMetricsRecorder) SetInflight(n int64) {}

func (NoopMetricsRecorder) SetQueued(n int64) {}
