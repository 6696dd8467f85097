// Package spec defines what to execute and under which resource limits.
package spec

import "time"

// ResourceLimit describes hard limits enforced by the sandbox.
// Zero values mean "not enforced".
type ResourceLimit struct {
	WallTime       time.Duration
	CPUTimeSec     uint64
	MemoryMB       uint64
	FileSizeMB     uint64
	MaxOutputBytes int64
}

// RunSpec describes one process to execute.
// Cmd is an argument vector and is never passed through a shell.
type RunSpec struct {
	JobID   string
	Phase   string
	WorkDir string
	Cmd     []string
	Env     []string
	Stdin   []byte
	Limits  ResourceLimit
	// KeepOnOutputLimit keeps the process running after a stream hits its
	// cap even when the engine kills on output limit by default. Excess
	// bytes are discarded and the stream is marked truncated.
	KeepOnOutputLimit bool
}
