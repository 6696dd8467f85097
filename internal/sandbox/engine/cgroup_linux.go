//go:build linux

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"nextgen/internal/sandbox/spec"
	"nextgen/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const cgroupDrainTimeout = time.Second

// prepareCgroupRoot returns root when it is a usable cgroup v2 directory and
// "" otherwise, so runs fall back to namespaces or process groups.
func prepareCgroupRoot(root string) string {
	if root == "" {
		return ""
	}
	ctx := context.Background()
	if err := os.MkdirAll(root, 0o750); err != nil {
		logger.Warn(ctx, "cgroup root unavailable", zap.String("root", root), zap.Error(err))
		return ""
	}
	if _, err := os.Stat(filepath.Join(root, "cgroup.procs")); err != nil {
		logger.Warn(ctx, "cgroup root is not a cgroup v2 directory", zap.String("root", root), zap.Error(err))
		return ""
	}
	for _, controller := range []string{"memory", "pids"} {
		if err := writeCgroupValue(root, "cgroup.subtree_control", "+"+controller); err != nil {
			logger.Warn(ctx, "enable cgroup controller failed", zap.String("controller", controller), zap.Error(err))
		}
	}
	return root
}

func createRunCgroup(root, jobID, phase string) (string, func(context.Context), error) {
	if root == "" {
		return "", func(context.Context) {}, fmt.Errorf("cgroup root is required")
	}
	cgroupPath := filepath.Join(root, fmt.Sprintf("%s-%s-%d", jobID, phase, time.Now().UnixNano()))
	if err := os.Mkdir(cgroupPath, 0o750); err != nil {
		return "", func(context.Context) {}, fmt.Errorf("create cgroup path: %w", err)
	}
	cleanup := func(ctx context.Context) {
		if err := removeRunCgroup(cgroupPath); err != nil {
			logger.Warn(ctx, "remove run cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}
	return cgroupPath, cleanup, nil
}

func applyCgroupLimits(cgroupPath string, limits spec.ResourceLimit, pids int64) error {
	pidsValue := "max"
	if pids > 0 {
		pidsValue = strconv.FormatInt(pids, 10)
	}
	if err := writeCgroupValue(cgroupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryMB > 0 {
		if err := writeCgroupValue(cgroupPath, "memory.max", strconv.FormatUint(limits.MemoryMB*mb, 10)); err != nil {
			return err
		}
	}
	return nil
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid")
	}
	return writeCgroupValue(cgroupPath, "cgroup.procs", strconv.Itoa(pid))
}

func killCgroup(cgroupPath string) error {
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0o600)
}

// killCgroupProcs covers kernels older than 5.14, which lack cgroup.kill.
// The group is frozen while its members are signalled so none can fork away.
func killCgroupProcs(cgroupPath string) {
	frozen := writeCgroupValue(cgroupPath, "cgroup.freeze", "1") == nil
	for attempt := 0; attempt < 3; attempt++ {
		pids := readCgroupPIDs(cgroupPath)
		if len(pids) == 0 {
			break
		}
		for _, pid := range pids {
			_ = unix.Kill(pid, unix.SIGKILL)
		}
	}
	if frozen {
		_ = writeCgroupValue(cgroupPath, "cgroup.freeze", "0")
	}
}

func removeRunCgroup(cgroupPath string) error {
	if err := killCgroup(cgroupPath); err != nil {
		killCgroupProcs(cgroupPath)
	}
	deadline := time.Now().Add(cgroupDrainTimeout)
	for len(readCgroupPIDs(cgroupPath)) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	return os.Remove(cgroupPath)
}

func readCgroupPIDs(cgroupPath string) []int {
	data, err := os.ReadFile(filepath.Join(cgroupPath, "cgroup.procs"))
	if err != nil {
		return nil
	}
	var pids []int
	for _, field := range strings.Fields(string(data)) {
		if pid, err := strconv.Atoi(field); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}

func memoryPeakKB(cgroupPath string, state *os.ProcessState) int64 {
	if cgroupPath != "" {
		if val, err := readCgroupInt(cgroupPath, "memory.peak"); err == nil && val > 0 {
			return val / 1024
		}
	}
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss
	}
	return 0
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, name))
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(string(data))
	return strconv.ParseInt(value, 10, 64)
}

func writeCgroupValue(cgroupPath, name, value string) error {
	path := filepath.Join(cgroupPath, name)
	return os.WriteFile(path, []byte(value), 0o640)
}
