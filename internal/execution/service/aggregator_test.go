package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"nextgen/internal/execution/model"
	pkgerrors "nextgen/pkg/errors"
)

func finishedJob(t *testing.T, path []model.Status, setup func(job *model.Job)) *model.Job {
	t.Helper()
	job := testJob("agg")
	for _, s := range path {
		if err := job.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if setup != nil {
		setup(job)
	}
	if err := job.Transition(model.StatusCleaned); err != nil {
		t.Fatalf("clean: %v", err)
	}
	return job
}

var runPath = []model.Status{model.StatusCompiling, model.StatusCompiled, model.StatusRunning}

func TestAggregateJobOutcomes(t *testing.T) {
	cases := []struct {
		name       string
		job        *model.Job
		wantStatus string
		wantOutput *string
		wantMsg    string
		truncated  bool
	}{
		{
			name: "completed",
			job: finishedJob(t, append(runPath, model.StatusCompleted), func(job *model.Job) {
				job.SetOutcome(model.Outcome{Output: "Welcome to Nextgen, Larry"})
			}),
			wantStatus: "success",
			wantOutput: strPtr("Welcome to Nextgen, Larry"),
		},
		{
			name: "completed_truncated",
			job: finishedJob(t, append(runPath, model.StatusCompleted), func(job *model.Job) {
				job.SetOutcome(model.Outcome{Output: "yyy", Truncated: true})
			}),
			wantStatus: "success",
			wantOutput: strPtr("yyy"),
			truncated:  true,
		},
		{
			name: "compile_failed",
			job: finishedJob(t, []model.Status{model.StatusCompiling, model.StatusCompileFailed}, func(job *model.Job) {
				job.SetDiagnostic("main.c:1:1: error: expected ';'")
			}),
			wantStatus: "error",
			wantMsg:    "main.c:1:1: error: expected ';'",
		},
		{
			name: "run_failed",
			job: finishedJob(t, append(runPath, model.StatusRunFailed), func(job *model.Job) {
				job.SetDiagnostic("exited with code 1")
			}),
			wantStatus: "error",
			wantMsg:    "exited with code 1",
		},
		{
			name:       "timed_out",
			job:        finishedJob(t, append(runPath, model.StatusTimedOut), nil),
			wantStatus: "error",
			wantMsg:    "execution timed out",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := Aggregate(context.Background(), tc.job, nil)
			if code != http.StatusOK {
				t.Fatalf("expected 200, got %d", code)
			}
			if body.Status != tc.wantStatus || body.Message != tc.wantMsg || body.Truncated != tc.truncated {
				t.Fatalf("unexpected body: %+v", body)
			}
			if tc.wantOutput != nil && (body.Output == nil || *body.Output != *tc.wantOutput) {
				t.Fatalf("unexpected output: %v", body.Output)
			}
		})
	}
}

func TestAggregateErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"validation", pkgerrors.New(pkgerrors.RequiredFieldEmpty).WithMessage("code is required"), http.StatusBadRequest, "code is required"},
		{"busy", pkgerrors.New(pkgerrors.JudgeQueueFull).WithMessage("worker pool is full"), http.StatusTooManyRequests, BusyMessage},
		{"internal", pkgerrors.Wrapf(errors.New("mkdir /var/lib/runner/job-1: permission denied"), pkgerrors.JudgeSystemError, "create workspace failed"), http.StatusInternalServerError, InternalErrorMessage},
		{"collision", pkgerrors.New(pkgerrors.WorkspaceCollision), http.StatusInternalServerError, InternalErrorMessage},
		{"plain", errors.New("exec: \"gcc\": executable file not found in $PATH"), http.StatusInternalServerError, InternalErrorMessage},
		{"canceled_run", pkgerrors.Wrapf(context.Canceled, pkgerrors.Timeout, "run canceled"), http.StatusRequestTimeout, CanceledMessage},
		{"canceled_queued", pkgerrors.Wrapf(context.DeadlineExceeded, pkgerrors.Timeout, "request canceled while queued"), http.StatusRequestTimeout, CanceledMessage},
		{"bare_context", fmt.Errorf("compile: %w", context.Canceled), http.StatusRequestTimeout, CanceledMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := Aggregate(context.Background(), testJob("e"), tc.err)
			if code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, code)
			}
			if body.Status != "error" || body.Message != tc.wantMsg {
				t.Fatalf("unexpected body: %+v", body)
			}
			if strings.Contains(body.Message, "/var/lib") || strings.Contains(body.Message, "$PATH") {
				t.Fatalf("internal details leaked: %s", body.Message)
			}
			if body.Output != nil {
				t.Fatalf("error bodies carry no output")
			}
		})
	}
}

func TestAggregateNonTerminalJobIsInternal(t *testing.T) {
	code, body := Aggregate(context.Background(), testJob("n"), nil)
	if code != http.StatusInternalServerError || body.Message != InternalErrorMessage {
		t.Fatalf("unexpected result: %d %+v", code, body)
	}
}
