//go:build linux

package engine_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nextgen/internal/sandbox/engine"
	"nextgen/internal/sandbox/result"
	"nextgen/internal/sandbox/spec"
)

func requireBinary(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

const testPath = "/usr/local/bin:/usr/bin:/bin"

func newEngine(t *testing.T, killOnLimit bool) engine.Engine {
	t.Helper()
	return newEngineWithConfig(t, engine.Config{KillOnOutputLimit: killOnLimit})
}

func newEngineWithConfig(t *testing.T, cfg engine.Config) engine.Engine {
	t.Helper()
	cfg.WaitDelay = 200 * time.Millisecond
	eng, err := engine.NewEngine(cfg)
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	return eng
}

// markerSize reports how many bytes a background writer has appended so far.
func markerSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("stat marker: %v", err)
	}
	return info.Size()
}

// assertWriterStopped fails when the marker file keeps growing after the run
// returned, meaning some descendant survived the kill.
func assertWriterStopped(t *testing.T, marker string) {
	t.Helper()
	time.Sleep(200 * time.Millisecond)
	before := markerSize(t, marker)
	if before == 0 {
		t.Fatalf("background writer never started")
	}
	time.Sleep(500 * time.Millisecond)
	if after := markerSize(t, marker); after != before {
		t.Fatalf("descendant still alive: marker grew from %d to %d bytes", before, after)
	}
}

func TestEngineRun(t *testing.T) {
	sh := requireBinary(t, "sh")
	cat := requireBinary(t, "cat")

	cases := []struct {
		name    string
		killCap bool
		spec    func(workDir string) spec.RunSpec
		verify  func(t *testing.T, elapsed time.Duration, res result.RunResult)
	}{
		{
			name: "stdin_is_data_not_shell",
			spec: func(workDir string) spec.RunSpec {
				return spec.RunSpec{
					JobID: "job-stdin", Phase: "run", WorkDir: workDir,
					Cmd:   []string{cat},
					Stdin: []byte("'; rm -rf / #\n$(whoami)\n"),
				}
			},
			verify: func(t *testing.T, elapsed time.Duration, res result.RunResult) {
				if res.Stdout != "'; rm -rf / #\n$(whoami)\n" {
					t.Fatalf("stdin was altered: %q", res.Stdout)
				}
				if res.ExitCode != 0 {
					t.Fatalf("unexpected exit code: %d", res.ExitCode)
				}
			},
		},
		{
			name: "nonzero_exit_keeps_stderr",
			spec: func(workDir string) spec.RunSpec {
				return spec.RunSpec{
					JobID: "job-exit", Phase: "run", WorkDir: workDir,
					Cmd: []string{sh, "-c", "echo boom >&2; exit 3"},
				}
			},
			verify: func(t *testing.T, elapsed time.Duration, res result.RunResult) {
				if res.ExitCode != 3 {
					t.Fatalf("expected exit code 3, got %d", res.ExitCode)
				}
				if res.Stderr != "boom\n" {
					t.Fatalf("unexpected stderr: %q", res.Stderr)
				}
			},
		},
		{
			name: "wall_timeout_is_bounded",
			spec: func(workDir string) spec.RunSpec {
				return spec.RunSpec{
					JobID: "job-timeout", Phase: "run", WorkDir: workDir,
					Cmd:    []string{sh, "-c", "sleep 30 & sleep 30"},
					Env:    []string{"PATH=" + testPath},
					Limits: spec.ResourceLimit{WallTime: 300 * time.Millisecond},
				}
			},
			verify: func(t *testing.T, elapsed time.Duration, res result.RunResult) {
				if !res.TimedOut {
					t.Fatalf("expected timeout")
				}
				if res.WallTimeMs < 300 || res.WallTimeMs > 1300 {
					t.Fatalf("wall time %dms is outside the timeout margin", res.WallTimeMs)
				}
				if elapsed > 3*time.Second {
					t.Fatalf("timeout took too long: %s", elapsed)
				}
			},
		},
		{
			name:    "output_cap_kills_early",
			killCap: true,
			spec: func(workDir string) spec.RunSpec {
				return spec.RunSpec{
					JobID: "job-flood", Phase: "run", WorkDir: workDir,
					Cmd:    []string{sh, "-c", "while :; do echo xxxxxxxxxxxxxxxx; done"},
					Limits: spec.ResourceLimit{WallTime: 5 * time.Second, MaxOutputBytes: 1024},
				}
			},
			verify: func(t *testing.T, elapsed time.Duration, res result.RunResult) {
				if !res.OutputLimited || !res.StdoutTruncated {
					t.Fatalf("expected output limit to trigger")
				}
				if res.TimedOut {
					t.Fatalf("output cap should stop the process before the wall timer")
				}
				if len(res.Stdout) != 1024 {
					t.Fatalf("expected 1024 captured bytes, got %d", len(res.Stdout))
				}
			},
		},
		{
			name: "output_cap_without_kill_discards",
			spec: func(workDir string) spec.RunSpec {
				return spec.RunSpec{
					JobID: "job-discard", Phase: "run", WorkDir: workDir,
					Cmd:    []string{sh, "-c", "i=0; while [ $i -lt 200 ]; do echo 0123456789; i=$((i+1)); done"},
					Limits: spec.ResourceLimit{MaxOutputBytes: 100},
				}
			},
			verify: func(t *testing.T, elapsed time.Duration, res result.RunResult) {
				if res.OutputLimited {
					t.Fatalf("process must not be killed when kill-on-limit is off")
				}
				if !res.StdoutTruncated || len(res.Stdout) != 100 {
					t.Fatalf("expected 100 truncated bytes, got %d", len(res.Stdout))
				}
				if res.ExitCode != 0 {
					t.Fatalf("unexpected exit code: %d", res.ExitCode)
				}
			},
		},
		{
			name: "environment_is_not_inherited",
			spec: func(workDir string) spec.RunSpec {
				return spec.RunSpec{
					JobID: "job-env", Phase: "run", WorkDir: workDir,
					Cmd: []string{sh, "-c", "echo \"[$HOME]\""},
					Env: []string{"PATH=/usr/bin:/bin"},
				}
			},
			verify: func(t *testing.T, elapsed time.Duration, res result.RunResult) {
				if strings.TrimSpace(res.Stdout) != "[]" {
					t.Fatalf("service environment leaked: %q", res.Stdout)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := newEngine(t, tc.killCap)
			start := time.Now()
			res, err := eng.Run(context.Background(), tc.spec(t.TempDir()))
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			tc.verify(t, time.Since(start), res)
		})
	}
}

func TestEngineRunCanceled(t *testing.T) {
	sh := requireBinary(t, "sh")
	eng := newEngine(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := eng.Run(ctx, spec.RunSpec{
		JobID: "job-cancel", Phase: "run", WorkDir: t.TempDir(),
		Cmd: []string{sh, "-c", "sleep 30"},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Canceled {
		t.Fatalf("expected canceled result")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("cancel did not stop the process promptly")
	}
}

func TestEngineRejectsInvalidSpec(t *testing.T) {
	eng := newEngine(t, true)
	cases := []spec.RunSpec{
		{WorkDir: "/tmp", Cmd: []string{"true"}},
		{JobID: "job", Cmd: []string{"true"}},
		{JobID: "job", WorkDir: "/tmp"},
	}
	for _, rs := range cases {
		if _, err := eng.Run(context.Background(), rs); err == nil {
			t.Fatalf("expected error for %+v", rs)
		}
	}
}

func TestEngineStartFailure(t *testing.T) {
	eng := newEngine(t, true)
	_, err := eng.Run(context.Background(), spec.RunSpec{
		JobID: "job-missing", Phase: "run", WorkDir: t.TempDir(),
		Cmd: []string{"/nonexistent/binary"},
	})
	if err == nil {
		t.Fatalf("expected start error")
	}
}

// writerLoop appends to marker for about ten seconds unless it is killed.
const writerLoop = `i=0; while [ $i -lt 200 ]; do echo x >> marker; sleep 0.05; i=$((i+1)); done`

func TestEngineTimeoutKillsDescendants(t *testing.T) {
	sh := requireBinary(t, "sh")
	cases := []struct {
		name string
		// detached descendants leave the process group, so only a cgroup or a
		// PID namespace can reach them.
		detached bool
		script   string
	}{
		{name: "background_job", script: "(" + writerLoop + ") & while :; do :; done"},
		{name: "new_session", detached: true, script: "setsid sh -c '" + writerLoop + "' & while :; do :; done"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.detached {
				requireBinary(t, "setsid")
			}
			eng := newEngineWithConfig(t, engine.Config{
				KillOnOutputLimit: true,
				PIDNamespace:      true,
				CgroupRoot:        os.Getenv("NEXTGEN_TEST_CGROUP_ROOT"),
			})
			workDir := t.TempDir()
			res, err := eng.Run(context.Background(), spec.RunSpec{
				JobID: "job-" + tc.name, Phase: "run", WorkDir: workDir,
				Cmd:    []string{sh, "-c", tc.script},
				Env:    []string{"PATH=" + testPath},
				Limits: spec.ResourceLimit{WallTime: 800 * time.Millisecond},
			})
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if !res.TimedOut {
				t.Fatalf("expected timeout, got %+v", res)
			}
			if tc.detached && res.Isolation == result.IsolationProcessGroup {
				// Nothing can contain the writer here; wait it out so it
				// does not outlive the test binary.
				time.Sleep(11 * time.Second)
				t.Skip("neither cgroups nor PID namespaces are available")
			}
			assertWriterStopped(t, filepath.Join(workDir, "marker"))
		})
	}
}

func TestEngineCancelKillsDetachedDescendants(t *testing.T) {
	sh := requireBinary(t, "sh")
	requireBinary(t, "setsid")
	eng := newEngineWithConfig(t, engine.Config{
		PIDNamespace: true,
		CgroupRoot:   os.Getenv("NEXTGEN_TEST_CGROUP_ROOT"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(800*time.Millisecond, cancel)
	workDir := t.TempDir()
	res, err := eng.Run(ctx, spec.RunSpec{
		JobID: "job-cancel-detached", Phase: "run", WorkDir: workDir,
		Cmd: []string{sh, "-c", "setsid sh -c '" + writerLoop + "' & while :; do :; done"},
		Env: []string{"PATH=" + testPath},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Canceled {
		t.Fatalf("expected canceled result")
	}
	if res.Isolation == result.IsolationProcessGroup {
		time.Sleep(11 * time.Second)
		t.Skip("neither cgroups nor PID namespaces are available")
	}
	assertWriterStopped(t, filepath.Join(workDir, "marker"))
}

func TestEngineKeepOnOutputLimitOverridesKill(t *testing.T) {
	sh := requireBinary(t, "sh")
	eng := newEngine(t, true)
	res, err := eng.Run(context.Background(), spec.RunSpec{
		JobID: "job-keep", Phase: "compile", WorkDir: t.TempDir(),
		Cmd:               []string{sh, "-c", "i=0; while [ $i -lt 200 ]; do echo 0123456789 >&2; i=$((i+1)); done; exit 1"},
		Limits:            spec.ResourceLimit{WallTime: 5 * time.Second, MaxOutputBytes: 100},
		KeepOnOutputLimit: true,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.OutputLimited {
		t.Fatalf("process must run to completion when the spec keeps it on output limit")
	}
	if res.ExitCode != 1 || !res.StderrTruncated || len(res.Stderr) != 100 {
		t.Fatalf("unexpected result: exit=%d truncated=%v len=%d", res.ExitCode, res.StderrTruncated, len(res.Stderr))
	}
}
