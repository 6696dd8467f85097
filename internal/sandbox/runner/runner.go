package runner

import (
	"context"

	"nextgen/internal/sandbox/profile"
	"nextgen/internal/sandbox/result"
	"nextgen/internal/sandbox/spec"
)

// Runner executes compile and run workflows.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error)
	Run(ctx context.Context, req RunRequest) (result.ExecResult, error)
}

// CompileRequest describes a compile task.
type CompileRequest struct {
	JobID             string
	Language          profile.LanguageSpec
	WorkDir           string
	Source            []byte
	ExtraCompileFlags []string
	Limits            spec.ResourceLimit
}

// RunRequest describes one run of a compiled artifact.
type RunRequest struct {
	JobID       string
	Language    profile.LanguageSpec
	WorkDir     string
	ArtifactRef string
	Stdin       []byte
	Limits      spec.ResourceLimit
}
