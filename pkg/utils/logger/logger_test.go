package logger_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nextgen/pkg/utils/contextkey"
	"nextgen/pkg/utils/logger"
)

func TestLoggerWritesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "app.log")
	if err := logger.Init(logger.Config{Level: "debug", Format: "json", OutputPath: logPath}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	t.Cleanup(func() { logger.SetLogger(nil) })

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = logger.WithJobID(ctx, "job-42")
	logger.Info(ctx, "job finished")
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"msg":"job finished"`, `"trace_id":"trace-1"`, `"job_id":"job-42"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %s in %s", want, line)
		}
	}
}

func TestLoggerRejectsInvalidLevel(t *testing.T) {
	if _, err := logger.NewLogger(logger.Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestLoggerWithoutInitIsSilent(t *testing.T) {
	logger.SetLogger(nil)
	logger.Info(context.Background(), "dropped")
	if err := logger.Sync(); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
}
