// Package sandbox drives one job through workspace, compile and run.
package sandbox

import (
	"context"

	"nextgen/internal/execution/model"
)

// Executor runs a job to a terminal state.
// A nil error means the job reached a user-visible outcome
// (Completed, CompileFailed, RunFailed or TimedOut); a non-nil error is an
// infrastructure fault. In both cases the job ends Cleaned.
type Executor interface {
	Execute(ctx context.Context, job *model.Job) error
}

// StatusReporter receives job state changes.
type StatusReporter interface {
	ReportStatus(ctx context.Context, jobID string, status model.Status)
}
