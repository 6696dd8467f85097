package sandbox

import (
	"context"
	"fmt"

	"nextgen/internal/execution/model"
	"nextgen/internal/sandbox/config"
	"nextgen/internal/sandbox/result"
	"nextgen/internal/sandbox/runner"
	"nextgen/internal/sandbox/spec"
	"nextgen/internal/sandbox/workspace"
	appErr "nextgen/pkg/errors"
	"nextgen/pkg/utils/logger"

	"go.uber.org/zap"
)

// TimedOutMessage is the diagnostic recorded for a run that hit its wall clock.
const TimedOutMessage = "execution timed out"

// Worker is the sandbox scheduling unit.
type Worker struct {
	runner         runner.Runner
	langRepo       config.LanguageSpecRepository
	workspaces     *workspace.Manager
	statusReporter StatusReporter
}

// NewWorker creates a new worker with required dependencies.
func NewWorker(r runner.Runner, langRepo config.LanguageSpecRepository, workspaces *workspace.Manager) *Worker {
	return &Worker{
		runner:     r,
		langRepo:   langRepo,
		workspaces: workspaces,
	}
}

// SetStatusReporter injects a reporter for intermediate updates.
func (w *Worker) SetStatusReporter(reporter StatusReporter) {
	w.statusReporter = reporter
}

// Execute runs compile then run for one job inside a private workspace.
// The workspace is released and the job moved to Cleaned on every return path.
func (w *Worker) Execute(ctx context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return appErr.ValidationError("job", "required")
	}
	if w.runner == nil || w.langRepo == nil || w.workspaces == nil {
		return appErr.New(appErr.JudgeSystemError).WithMessage("worker dependencies are not initialized")
	}
	ctx = logger.WithJobID(ctx, job.ID)
	defer w.transition(ctx, job, model.StatusCleaned)

	lang, err := w.langRepo.GetLanguageSpec(ctx, string(job.Language))
	if err != nil {
		return err
	}

	handle, err := w.workspaces.Acquire(ctx, job.ID)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := handle.Release(ctx); relErr != nil {
			logger.Error(ctx, "release workspace failed", zap.Error(relErr))
		}
	}()

	if err := w.transition(ctx, job, model.StatusCompiling); err != nil {
		return err
	}
	compileRes, err := w.runner.Compile(ctx, runner.CompileRequest{
		JobID:    job.ID,
		Language: lang,
		WorkDir:  handle.Dir(),
		Source:   []byte(job.SourceCode),
		Limits: spec.ResourceLimit{
			WallTime:       job.Limits.CompileTimeout,
			MaxOutputBytes: job.Limits.MaxOutputBytes,
		},
	})
	if err != nil {
		return err
	}
	if !compileRes.OK {
		job.SetDiagnostic(compileRes.Diagnostic)
		logger.Info(ctx, "compilation failed", zap.Int("exit_code", compileRes.ExitCode), zap.Bool("timed_out", compileRes.TimedOut))
		return w.transition(ctx, job, model.StatusCompileFailed)
	}

	if err := w.transition(ctx, job, model.StatusCompiled); err != nil {
		return err
	}
	if err := job.SetArtifact(compileRes.ArtifactRef); err != nil {
		return err
	}
	if err := w.transition(ctx, job, model.StatusRunning); err != nil {
		return err
	}

	execRes, err := w.runner.Run(ctx, runner.RunRequest{
		JobID:       job.ID,
		Language:    lang,
		WorkDir:     handle.Dir(),
		ArtifactRef: job.ArtifactRef(),
		Stdin:       job.Stdin,
		Limits: spec.ResourceLimit{
			WallTime:       job.Limits.RunTimeout,
			CPUTimeSec:     job.Limits.CPUTimeSec,
			MemoryMB:       job.Limits.MemoryMB,
			FileSizeMB:     job.Limits.FileSizeMB,
			MaxOutputBytes: job.Limits.MaxOutputBytes,
		},
	})
	if err != nil {
		return err
	}
	job.SetOutcome(model.Outcome{
		Output:    execRes.Stdout,
		Stderr:    execRes.Stderr,
		Truncated: execRes.Truncated,
		ExitCode:  execRes.ExitCode,
		TimeMs:    execRes.TimeMs,
		MemoryKB:  execRes.MemoryKB,
	})

	final := runStatus(execRes)
	switch final {
	case model.StatusTimedOut:
		job.SetDiagnostic(TimedOutMessage)
	case model.StatusRunFailed:
		job.SetDiagnostic(runtimeDiagnostic(execRes))
	}
	logger.Info(ctx, "run finished",
		zap.String("status", string(final)),
		zap.Int("exit_code", execRes.ExitCode),
		zap.Int64("wall_time_ms", execRes.WallTimeMs),
		zap.Bool("truncated", execRes.Truncated),
	)
	return w.transition(ctx, job, final)
}

func (w *Worker) transition(ctx context.Context, job *model.Job, next model.Status) error {
	if err := job.Transition(next); err != nil {
		logger.Error(ctx, "job transition rejected", zap.String("next", string(next)), zap.Error(err))
		return err
	}
	if w.statusReporter != nil {
		w.statusReporter.ReportStatus(ctx, job.ID, next)
	}
	return nil
}

// runStatus maps a finished process to a terminal job state. Output that was
// cut short by the cap counts as a completed run.
func runStatus(res result.ExecResult) model.Status {
	switch {
	case res.TimedOut:
		return model.StatusTimedOut
	case res.OutputLimited:
		return model.StatusCompleted
	case res.ExitCode != 0:
		return model.StatusRunFailed
	default:
		return model.StatusCompleted
	}
}

func runtimeDiagnostic(res result.ExecResult) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	if res.ExitCode < 0 {
		return "program terminated abnormally"
	}
	return fmt.Sprintf("exited with code %d", res.ExitCode)
}
