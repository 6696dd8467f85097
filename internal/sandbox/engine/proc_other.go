//go:build !linux

package engine

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"nextgen/internal/sandbox/result"
	"nextgen/internal/sandbox/spec"
)

// Without process groups only the direct child can be killed.
type processTree struct {
	proc *os.Process
}

func prepareCgroupRoot(string) string {
	return ""
}

func (e *processEngine) start(_ context.Context, _ spec.RunSpec, build func(*syscall.SysProcAttr) *exec.Cmd) (*processTree, *exec.Cmd, error) {
	cmd := build(nil)
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return &processTree{proc: cmd.Process}, cmd, nil
}

func (t *processTree) kill() {
	if t.proc != nil {
		_ = t.proc.Kill()
	}
}

func (t *processTree) release(context.Context) {}

func (t *processTree) isolation() string {
	return result.IsolationProcessGroup
}

func (t *processTree) peakMemoryKB(*os.ProcessState) int64 {
	return 0
}

func applyRlimits(pid int, limits spec.ResourceLimit) error {
	return nil
}
