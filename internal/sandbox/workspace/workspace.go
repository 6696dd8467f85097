// Package workspace manages per-job private directories.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	appErr "nextgen/pkg/errors"
	"nextgen/pkg/utils/logger"

	"go.uber.org/zap"
)

const dirPrefix = "job-"

// Manager creates and removes job workspaces under a single root.
type Manager struct {
	root string
}

// Handle is an acquired workspace. Release is safe to call more than once.
type Handle struct {
	jobID string
	dir   string
	once  sync.Once
	err   error
}

// NewManager prepares the root directory.
func NewManager(root string) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		return nil, appErr.ValidationError("work_root", "required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "resolve work root failed")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create work root failed")
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute root directory.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh directory for jobID. An existing directory is never
// reused: the call fails with WorkspaceCollision instead.
func (m *Manager) Acquire(ctx context.Context, jobID string) (*Handle, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return nil, appErr.ValidationError("job_id", "invalid")
	}
	dir := filepath.Join(m.root, dirPrefix+jobID)
	if err := os.Mkdir(dir, 0o700); err != nil {
		if errors.Is(err, os.ErrExist) {
			logger.Error(ctx, "workspace already exists", zap.String("dir", dir))
			return nil, appErr.Newf(appErr.WorkspaceCollision, "workspace for job %s already exists", jobID)
		}
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create workspace failed")
	}
	logger.Debug(ctx, "workspace acquired", zap.String("dir", dir))
	return &Handle{jobID: jobID, dir: dir}, nil
}

// Dir returns the workspace directory.
func (h *Handle) Dir() string {
	return h.dir
}

// Release removes the workspace and everything in it.
func (h *Handle) Release(ctx context.Context) error {
	h.once.Do(func() {
		if err := os.RemoveAll(h.dir); err != nil {
			h.err = appErr.Wrapf(err, appErr.JudgeSystemError, "remove workspace failed")
			logger.Warn(ctx, "workspace cleanup failed", zap.String("dir", h.dir), zap.Error(err))
			return
		}
		logger.Debug(ctx, "workspace released", zap.String("dir", h.dir))
	})
	return h.err
}

// Sweep removes job directories older than maxAge left behind by a crash.
// A zero maxAge removes every job directory.
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("read work root: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirPrefix) {
			continue
		}
		if maxAge > 0 {
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
		}
		path := filepath.Join(m.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn(ctx, "sweep stale workspace failed", zap.String("dir", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info(ctx, "stale workspaces removed", zap.Int("count", removed))
	}
	return removed, nil
}
