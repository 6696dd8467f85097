package model

import (
	"strings"
	"sync"
	"time"

	appErr "nextgen/pkg/errors"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending       Status = "Pending"
	StatusCompiling     Status = "Compiling"
	StatusCompileFailed Status = "CompileFailed"
	StatusCompiled      Status = "Compiled"
	StatusRunning       Status = "Running"
	StatusCompleted     Status = "Completed"
	StatusRunFailed     Status = "RunFailed"
	StatusTimedOut      Status = "TimedOut"
	StatusCleaned       Status = "Cleaned"
)

// Language is the closed set of accepted source languages.
type Language string

const (
	LanguageC Language = "c"
)

// SupportedLanguages lists every Language value accepted by intake.
var SupportedLanguages = []Language{LanguageC}

// Limits bounds one job.
type Limits struct {
	CompileTimeout time.Duration
	RunTimeout     time.Duration
	MaxOutputBytes int64
	CPUTimeSec     uint64
	MemoryMB       uint64
	FileSizeMB     uint64
}

// RunRequest is the caller payload for one execution.
type RunRequest struct {
	Code     string  `json:"code"`
	Language string  `json:"language"`
	Input    *string `json:"input,omitempty"`
}

// Job is one compile-and-run request.
type Job struct {
	ID         string
	SourceCode string
	Stdin      []byte
	Language   Language
	Limits     Limits
	CreatedAt  time.Time

	mu          sync.Mutex
	status      Status
	artifactRef string
	diagnostic  string
	output      string
	stderr      string
	truncated   bool
	exitCode    int
	timeMs      int64
	memoryKB    int64
	terminal    Status
}

// NewJob creates a pending job.
func NewJob(id string, lang Language, source string, stdin []byte, limits Limits) *Job {
	return &Job{
		ID:         id,
		SourceCode: source,
		Stdin:      stdin,
		Language:   lang,
		Limits:     limits,
		CreatedAt:  time.Now(),
		status:     StatusPending,
	}
}

var transitions = map[Status][]Status{
	StatusPending:       {StatusCompiling},
	StatusCompiling:     {StatusCompileFailed, StatusCompiled},
	StatusCompiled:      {StatusRunning},
	StatusRunning:       {StatusCompleted, StatusRunFailed, StatusTimedOut},
	StatusCompileFailed: nil,
	StatusCompleted:     nil,
	StatusRunFailed:     nil,
	StatusTimedOut:      nil,
}

// Transition moves the job to next. Cleaned is accepted from any state,
// since cleanup also runs after infrastructure faults, and repeating it is a no-op.
func (j *Job) Transition(next Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if next == StatusCleaned {
		if j.status != StatusCleaned {
			j.terminal = j.status
			j.status = StatusCleaned
		}
		return nil
	}
	for _, allowed := range transitions[j.status] {
		if allowed == next {
			j.status = next
			return nil
		}
	}
	return appErr.Newf(appErr.JudgeSystemError, "illegal job transition %s -> %s", j.status, next)
}

// Status returns the current state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// FinalStatus returns the last state before Cleaned, or the current state.
func (j *Job) FinalStatus() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusCleaned {
		return j.terminal
	}
	return j.status
}

// SetArtifact records the compiled binary. Only valid while Compiled.
func (j *Job) SetArtifact(ref string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusCompiled {
		return appErr.Newf(appErr.JudgeSystemError, "artifact set in state %s", j.status)
	}
	j.artifactRef = ref
	return nil
}

// ArtifactRef returns the compiled binary path. It is cleared once the job is
// cleaned because the workspace holding it is gone.
func (j *Job) ArtifactRef() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusCleaned {
		return ""
	}
	return j.artifactRef
}

// SetDiagnostic records compiler or runtime failure text.
func (j *Job) SetDiagnostic(diag string) {
	j.mu.Lock()
	j.diagnostic = diag
	j.mu.Unlock()
}

// Diagnostic returns compiler or runtime failure text.
func (j *Job) Diagnostic() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.diagnostic
}

// Outcome captures what the program produced.
type Outcome struct {
	Output    string
	Stderr    string
	Truncated bool
	ExitCode  int
	TimeMs    int64
	MemoryKB  int64
}

// SetOutcome records the run outcome.
func (j *Job) SetOutcome(o Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.output = o.Output
	j.stderr = o.Stderr
	j.truncated = o.Truncated
	j.exitCode = o.ExitCode
	j.timeMs = o.TimeMs
	j.memoryKB = o.MemoryKB
}

// Outcome returns the run outcome.
func (j *Job) Outcome() Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Outcome{
		Output:    j.output,
		Stderr:    j.stderr,
		Truncated: j.truncated,
		ExitCode:  j.exitCode,
		TimeMs:    j.timeMs,
		MemoryKB:  j.memoryKB,
	}
}

// OutcomeCode classifies the finished job with the execution error codes.
// Jobs that have not reached a user-visible outcome report JudgeSystemError.
func (j *Job) OutcomeCode() appErr.ErrorCode {
	switch j.FinalStatus() {
	case StatusCompleted:
		if j.Outcome().Truncated {
			return appErr.OutputLimitExceeded
		}
		return appErr.Success
	case StatusCompileFailed:
		return appErr.CompilationError
	case StatusRunFailed:
		return appErr.RuntimeError
	case StatusTimedOut:
		return appErr.TimeLimitExceeded
	default:
		return appErr.JudgeSystemError
	}
}

// ParseLanguage maps caller text onto the closed Language set.
func ParseLanguage(raw string) (Language, bool) {
	normalized := Language(strings.ToLower(strings.TrimSpace(raw)))
	for _, lang := range SupportedLanguages {
		if lang == normalized {
			return lang, true
		}
	}
	return "", false
}
