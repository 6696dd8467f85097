package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nextgen/internal/execution/model"
	pkgerrors "nextgen/pkg/errors"
)

type blockingExecutor struct {
	release chan struct{}
	started chan string
	mu      sync.Mutex
	running int
	peak    int
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{release: make(chan struct{}), started: make(chan string, 64)}
}

func (e *blockingExecutor) Execute(ctx context.Context, job *model.Job) error {
	e.mu.Lock()
	e.running++
	if e.running > e.peak {
		e.peak = e.running
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running--
		e.mu.Unlock()
	}()

	e.started <- job.ID
	select {
	case <-e.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	_ = job.Transition(model.StatusCleaned)
	return nil
}

type funcExecutor func(ctx context.Context, job *model.Job) error

func (f funcExecutor) Execute(ctx context.Context, job *model.Job) error { return f(ctx, job) }

func testJob(id string) *model.Job {
	return model.NewJob(id, model.LanguageC, "x", nil, model.Limits{})
}

func TestPoolRejectsBeyondCapacity(t *testing.T) {
	exec := newBlockingExecutor()
	pool := NewPool(exec, PoolConfig{Workers: 1, QueueSize: 0, AdmissionWait: 50 * time.Millisecond}, nil)
	defer pool.Close()

	firstDone := make(chan error, 1)
	go func() { firstDone <- pool.Submit(context.Background(), testJob("a")) }()
	<-exec.started

	err := pool.Submit(context.Background(), testJob("b"))
	if !pkgerrors.Is(err, pkgerrors.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull, got %v", err)
	}
	if pool.Inflight() != 1 {
		t.Fatalf("expected 1 inflight, got %d", pool.Inflight())
	}

	close(exec.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first job: %v", err)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	exec := newBlockingExecutor()
	pool := NewPool(exec, PoolConfig{Workers: 2, QueueSize: 8, AdmissionWait: time.Second}, nil)

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- pool.Submit(context.Background(), testJob(string(rune('a'+i))))
		}(i)
	}
	<-exec.started
	<-exec.started
	time.Sleep(50 * time.Millisecond)
	close(exec.release)
	wg.Wait()
	close(errs)
	pool.Close()

	for err := range errs {
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if exec.peak > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, saw %d", exec.peak)
	}
	if pool.Inflight() != 0 || pool.Queued() != 0 {
		t.Fatalf("counters not drained: inflight=%d queued=%d", pool.Inflight(), pool.Queued())
	}
}

func TestPoolPropagatesCancellation(t *testing.T) {
	exec := newBlockingExecutor()
	pool := NewPool(exec, PoolConfig{Workers: 1, AdmissionWait: time.Second}, nil)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Submit(ctx, testJob("c")) }()
	<-exec.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancellation did not reach the executor")
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := NewPool(funcExecutor(func(ctx context.Context, job *model.Job) error {
		panic("boom")
	}), PoolConfig{Workers: 1}, nil)
	defer pool.Close()

	err := pool.Submit(context.Background(), testJob("p"))
	if !pkgerrors.Is(err, pkgerrors.JudgeSystemError) {
		t.Fatalf("expected JudgeSystemError, got %v", err)
	}
	// The worker goroutine must survive the panic.
	err = pool.Submit(context.Background(), testJob("q"))
	if !pkgerrors.Is(err, pkgerrors.JudgeSystemError) {
		t.Fatalf("expected pool to keep serving, got %v", err)
	}
}

func TestPoolClosedRejects(t *testing.T) {
	pool := NewPool(funcExecutor(func(ctx context.Context, job *model.Job) error { return nil }), PoolConfig{Workers: 1}, nil)
	pool.Close()
	pool.Close()

	err := pool.Submit(context.Background(), testJob("z"))
	if !pkgerrors.Is(err, pkgerrors.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}
