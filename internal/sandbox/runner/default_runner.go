package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"nextgen/internal/sandbox/engine"
	"nextgen/internal/sandbox/observer"
	"nextgen/internal/sandbox/profile"
	"nextgen/internal/sandbox/result"
	"nextgen/internal/sandbox/spec"
	appErr "nextgen/pkg/errors"
	"nextgen/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	phaseCompile = "compile"
	phaseRun     = "run"

	compileTimedOutMessage    = "compilation timed out"
	diagnosticTruncatedNotice = "\n[diagnostic truncated]"

	outcomeOK        = "ok"
	outcomeFailed    = "failed"
	outcomeTimeout   = "timeout"
	outcomeTruncated = "truncated"
	outcomeCanceled  = "canceled"
)

// DefaultRunner implements compile/run workflows on top of the process engine.
type DefaultRunner struct {
	eng     engine.Engine
	metrics observer.MetricsRecorder
}

// NewRunner creates a new runner backed by the sandbox engine.
func NewRunner(eng engine.Engine) *DefaultRunner {
	return NewRunnerWithObserver(eng, observer.NoopMetricsRecorder{})
}

// NewRunnerWithObserver creates a new runner with metrics hooks.
func NewRunnerWithObserver(eng engine.Engine, metrics observer.MetricsRecorder) *DefaultRunner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &DefaultRunner{eng: eng, metrics: metrics}
}

func (r *DefaultRunner) Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error) {
	if err := validateCompileRequest(req); err != nil {
		return result.CompileResult{}, err
	}
	if err := writeSourceFile(req.WorkDir, req.Language.SourceFile, req.Source); err != nil {
		return result.CompileResult{}, err
	}

	cmd, err := buildCommand(req.Language.CompileCmdTpl, req.Language, req.WorkDir, req.ExtraCompileFlags)
	if err != nil {
		return result.CompileResult{}, err
	}

	limits := req.Limits
	if req.Language.CompileTimeout > 0 {
		limits.WallTime = req.Language.CompileTimeout
	}
	runSpec := spec.RunSpec{
		JobID:   req.JobID,
		Phase:   phaseCompile,
		WorkDir: req.WorkDir,
		Cmd:     cmd,
		Env:     req.Language.Env,
		Limits:  limits,
		// A long diagnostic must not kill the compiler halfway through.
		KeepOnOutputLimit: true,
	}

	runRes, err := r.eng.Run(ctx, runSpec)
	if err != nil {
		r.metrics.ObserveCompile(ctx, req.Language.ID, false, runRes.WallTimeMs)
		return result.CompileResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "run compiler failed")
	}
	if runRes.Canceled {
		return result.CompileResult{}, canceledError(ctx, "compilation canceled")
	}

	compileRes := result.CompileResult{
		OK:       runRes.ExitCode == 0 && !runRes.TimedOut,
		TimedOut: runRes.TimedOut,
		ExitCode: runRes.ExitCode,
		TimeMs:   runRes.WallTimeMs,
	}
	r.metrics.ObserveCompile(ctx, req.Language.ID, compileRes.OK, compileRes.TimeMs)

	switch {
	case runRes.TimedOut:
		compileRes.Diagnostic = compileTimedOutMessage
	case runRes.ExitCode != 0:
		compileRes.Diagnostic = compileDiagnostic(runRes, req.WorkDir)
	default:
		artifact := filepath.Join(req.WorkDir, req.Language.BinaryFile)
		if _, statErr := os.Stat(artifact); statErr != nil {
			return compileRes, appErr.Wrapf(statErr, appErr.JudgeSystemError, "compiler produced no artifact")
		}
		compileRes.ArtifactRef = artifact
	}
	logger.Debug(ctx, "compile finished",
		zap.Bool("ok", compileRes.OK),
		zap.Int("exit_code", compileRes.ExitCode),
		zap.Int64("time_ms", compileRes.TimeMs),
	)
	return compileRes, nil
}

func (r *DefaultRunner) Run(ctx context.Context, req RunRequest) (result.ExecResult, error) {
	if err := validateRunRequest(req); err != nil {
		return result.ExecResult{}, err
	}

	cmd, err := buildCommand(req.Language.RunCmdTpl, req.Language, req.WorkDir, nil)
	if err != nil {
		return result.ExecResult{}, err
	}
	runSpec := spec.RunSpec{
		JobID:   req.JobID,
		Phase:   phaseRun,
		WorkDir: req.WorkDir,
		Cmd:     cmd,
		Env:     req.Language.Env,
		Stdin:   req.Stdin,
		Limits:  req.Limits,
	}

	runRes, runErr := r.eng.Run(ctx, runSpec)
	if runErr != nil {
		r.metrics.ObserveRun(ctx, req.Language.ID, outcomeFailed, runRes.WallTimeMs, runRes.MemoryKB)
		return result.ExecResult{}, appErr.Wrapf(runErr, appErr.JudgeSystemError, "run program failed")
	}

	res := result.ExecResult{
		ExitCode:      runRes.ExitCode,
		TimeMs:        runRes.TimeMs,
		WallTimeMs:    runRes.WallTimeMs,
		MemoryKB:      runRes.MemoryKB,
		Stdout:        runRes.Stdout,
		Stderr:        runRes.Stderr,
		Truncated:     runRes.Truncated(),
		OutputLimited: runRes.OutputLimited,
		TimedOut:      runRes.TimedOut,
		Canceled:      runRes.Canceled,
	}
	r.metrics.ObserveRun(ctx, req.Language.ID, runOutcome(res), res.WallTimeMs, res.MemoryKB)
	if res.Canceled {
		return res, canceledError(ctx, "run canceled")
	}
	return res, nil
}

func canceledError(ctx context.Context, msg string) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return appErr.Wrapf(cause, appErr.Timeout, "%s", msg)
}

func runOutcome(res result.ExecResult) string {
	switch {
	case res.Canceled:
		return outcomeCanceled
	case res.TimedOut:
		return outcomeTimeout
	case res.Truncated:
		return outcomeTruncated
	case res.ExitCode != 0:
		return outcomeFailed
	default:
		return outcomeOK
	}
}

// compileDiagnostic returns compiler output with the workspace prefix removed,
// so diagnostics read "main.c:3:5: error ..." instead of exposing host paths.
func compileDiagnostic(runRes result.RunResult, workDir string) string {
	diag := runRes.Stderr
	if strings.TrimSpace(diag) == "" {
		diag = runRes.Stdout
	}
	if strings.TrimSpace(diag) == "" {
		return fmt.Sprintf("compiler exited with code %d", runRes.ExitCode)
	}
	diag = strings.ReplaceAll(diag, workDir+string(os.PathSeparator), "")
	if runRes.Truncated() {
		diag += diagnosticTruncatedNotice
	}
	return diag
}

func validateCompileRequest(req CompileRequest) error {
	if req.JobID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	if req.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if len(req.Source) == 0 {
		return appErr.ValidationError("source", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	if req.Language.SourceFile == "" || req.Language.BinaryFile == "" {
		return appErr.New(appErr.JudgeSystemError).WithMessage("language file names are not configured")
	}
	return nil
}

func validateRunRequest(req RunRequest) error {
	if req.JobID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	if req.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if req.ArtifactRef == "" {
		return appErr.ValidationError("artifact_ref", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	return nil
}

func writeSourceFile(workDir, name string, source []byte) error {
	path := filepath.Join(workDir, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return appErr.Newf(appErr.WorkspaceCollision, "source file already present in workspace")
		}
		return appErr.Wrapf(err, appErr.JudgeSystemError, "create source file failed")
	}
	if _, err := file.Write(source); err != nil {
		_ = file.Close()
		return appErr.Wrapf(err, appErr.JudgeSystemError, "write source file failed")
	}
	if err := file.Close(); err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "close source file failed")
	}
	return nil
}

// buildCommand tokenises tpl first and substitutes placeholders afterwards, so
// a path or flag containing spaces or quotes stays a single argument.
func buildCommand(tpl string, lang profile.LanguageSpec, workDir string, extraFlags []string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "parse command template failed")
	}

	if lang.Compiler == "" && strings.Contains(tpl, "{compiler}") {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("compiler is not configured")
	}
	src := filepath.Join(workDir, lang.SourceFile)
	bin := filepath.Join(workDir, lang.BinaryFile)
	flags := append(append([]string{}, lang.CompileFlags...), extraFlags...)

	cmd := make([]string, 0, len(fields)+len(flags))
	for _, field := range fields {
		if field == "{extraFlags}" {
			cmd = append(cmd, flags...)
			continue
		}
		field = strings.ReplaceAll(field, "{compiler}", lang.Compiler)
		field = strings.ReplaceAll(field, "{src}", src)
		field = strings.ReplaceAll(field, "{bin}", bin)
		cmd = append(cmd, field)
	}
	if len(cmd) == 0 {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("command is empty after expansion")
	}
	return cmd, nil
}
