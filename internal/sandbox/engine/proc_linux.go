//go:build linux

package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"

	"nextgen/internal/sandbox/result"
	"nextgen/internal/sandbox/spec"
	"nextgen/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const mb = 1024 * 1024

// processTree is everything one run may have spawned.
type processTree struct {
	proc         *os.Process
	cgroup       string
	cleanup      func(context.Context)
	pidNamespace bool
}

func baseProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

// pidNamespaceAttr makes the child init of a new PID namespace. Unprivileged
// services need a user namespace around it, mapped onto their own ids.
func pidNamespaceAttr() *syscall.SysProcAttr {
	attr := baseProcAttr()
	attr.Cloneflags = syscall.CLONE_NEWPID
	if uid := os.Geteuid(); uid != 0 {
		gid := os.Getegid()
		attr.Cloneflags |= syscall.CLONE_NEWUSER
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: uid, HostID: uid, Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: gid, HostID: gid, Size: 1}}
		attr.GidMappingsEnableSetgroups = false
	}
	return attr
}

// start launches the command inside the strongest containment available:
// a per-run cgroup, then a PID namespace, then a bare process group.
func (e *processEngine) start(ctx context.Context, runSpec spec.RunSpec, build func(*syscall.SysProcAttr) *exec.Cmd) (*processTree, *exec.Cmd, error) {
	if e.cgroupRoot != "" {
		cgroupPath, cleanup, err := createRunCgroup(e.cgroupRoot, runSpec.JobID, runSpec.Phase)
		if err == nil {
			tree := &processTree{cgroup: cgroupPath, cleanup: cleanup}
			if err := applyCgroupLimits(cgroupPath, runSpec.Limits, e.cfg.PIDsLimit); err != nil {
				logger.Warn(ctx, "apply cgroup limits failed", zap.String("cgroup", cgroupPath), zap.Error(err))
			}
			cmd, err := startInCgroup(tree, build)
			if err != nil {
				cleanup(ctx)
				return nil, nil, err
			}
			return tree, cmd, nil
		}
		logger.Warn(ctx, "create run cgroup failed", zap.String("phase", runSpec.Phase), zap.Error(err))
	}

	if e.pidNamespace.Load() {
		cmd := build(pidNamespaceAttr())
		err := cmd.Start()
		if err == nil {
			return &processTree{proc: cmd.Process, pidNamespace: true}, cmd, nil
		}
		if !isNamespaceDenied(err) {
			return nil, nil, err
		}
		e.pidNamespace.Store(false)
		logger.Warn(ctx, "pid namespace unavailable, using process groups", zap.Error(err))
	}

	cmd := build(baseProcAttr())
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return &processTree{proc: cmd.Process}, cmd, nil
}

// startInCgroup places the child in its cgroup at clone time. Kernels without
// CLONE_INTO_CGROUP get the pid written to cgroup.procs right after start.
func startInCgroup(tree *processTree, build func(*syscall.SysProcAttr) *exec.Cmd) (*exec.Cmd, error) {
	dir, err := os.Open(tree.cgroup)
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	attr := baseProcAttr()
	attr.UseCgroupFD = true
	attr.CgroupFD = int(dir.Fd())
	cmd := build(attr)
	if err := cmd.Start(); err == nil {
		tree.proc = cmd.Process
		return cmd, nil
	}

	cmd = build(baseProcAttr())
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	tree.proc = cmd.Process
	if err := addProcessToCgroup(tree.cgroup, cmd.Process.Pid); err != nil {
		killProcessGroup(cmd.Process)
		_ = cmd.Wait()
		return nil, err
	}
	return cmd, nil
}

func isNamespaceDenied(err error) bool {
	return errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EUSERS)
}

// kill stops the direct child and every descendant the containment can see.
func (t *processTree) kill() {
	if t.cgroup != "" {
		if err := killCgroup(t.cgroup); err != nil {
			killCgroupProcs(t.cgroup)
		}
	}
	// The direct child leads its process group. In a PID namespace it is
	// also init, so its death takes the whole namespace down.
	killProcessGroup(t.proc)
}

func (t *processTree) release(ctx context.Context) {
	if t.cleanup != nil {
		t.cleanup(ctx)
	}
}

func (t *processTree) isolation() string {
	switch {
	case t.cgroup != "":
		return result.IsolationCgroup
	case t.pidNamespace:
		return result.IsolationPIDNamespace
	default:
		return result.IsolationProcessGroup
	}
}

func (t *processTree) peakMemoryKB(state *os.ProcessState) int64 {
	return memoryPeakKB(t.cgroup, state)
}

func killProcessGroup(p *os.Process) {
	if p == nil || p.Pid <= 0 {
		return
	}
	_ = unix.Kill(-p.Pid, unix.SIGKILL)
}

func applyRlimits(pid int, limits spec.ResourceLimit) error {
	if limits.CPUTimeSec > 0 {
		if err := setRlimit(pid, unix.RLIMIT_CPU, limits.CPUTimeSec); err != nil {
			return err
		}
	}
	if limits.MemoryMB > 0 {
		if err := setRlimit(pid, unix.RLIMIT_AS, limits.MemoryMB*mb); err != nil {
			return err
		}
	}
	if limits.FileSizeMB > 0 {
		if err := setRlimit(pid, unix.RLIMIT_FSIZE, limits.FileSizeMB*mb); err != nil {
			return err
		}
	}
	return nil
}

func setRlimit(pid, resource int, value uint64) error {
	return unix.Prlimit(pid, resource, &unix.Rlimit{Cur: value, Max: value}, nil)
}
