// Package result defines sandbox execution results.
package result

// Isolation names how a run's process tree was contained.
const (
	IsolationCgroup       = "cgroup"
	IsolationPIDNamespace = "pid_namespace"
	IsolationProcessGroup = "process_group"
)

// RunResult captures raw data of one sandboxed process.
type RunResult struct {
	ExitCode        int
	TimeMs          int64
	WallTimeMs      int64
	MemoryKB        int64
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
	OutputLimited   bool
	Canceled        bool
	// Isolation is the containment that was in force when the run was killed
	// or exited. Only IsolationCgroup and IsolationPIDNamespace also catch
	// descendants that left the process group.
	Isolation string
}

// Truncated reports whether any captured stream hit the output cap.
func (r RunResult) Truncated() bool {
	return r.StdoutTruncated || r.StderrTruncated
}

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK          bool
	TimedOut    bool
	ExitCode    int
	TimeMs      int64
	ArtifactRef string
	Diagnostic  string
}

// ExecResult contains the outcome of running a compiled artifact.
type ExecResult struct {
	ExitCode   int
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	Stdout     string
	Stderr     string
	Truncated  bool
	// OutputLimited is set when the process was stopped for exceeding the output cap.
	OutputLimited bool
	TimedOut      bool
	Canceled      bool
}
