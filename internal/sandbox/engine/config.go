package engine

import "time"

// Config controls sandbox engine behavior.
type Config struct {
	// KillOnOutputLimit terminates the process tree as soon as a captured
	// stream reaches its cap. When false, extra bytes are discarded and the
	// process keeps running until it exits or times out.
	KillOnOutputLimit bool
	// EnableRlimits applies CPU, address space and file size rlimits to the
	// child right after it starts.
	EnableRlimits bool
	// CgroupRoot is a delegated cgroup v2 directory. Every run gets a child
	// cgroup below it and is torn down through cgroup.kill. Empty disables it.
	CgroupRoot string
	// PIDsLimit is written to pids.max of each run cgroup. Zero means "max".
	PIDsLimit int64
	// PIDNamespace starts runs that have no cgroup as init of a fresh PID
	// namespace, so killing it takes down descendants that called setsid.
	PIDNamespace bool
	// WaitDelay bounds how long Wait keeps draining pipes after the process
	// exits, in case a detached descendant still holds them open.
	WaitDelay time.Duration
	// DefaultMaxOutputBytes is used when a RunSpec has no output cap.
	DefaultMaxOutputBytes int64
}
