package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"nextgen/internal/execution/model"
	"nextgen/internal/sandbox"
	"nextgen/internal/sandbox/observer"
	appErr "nextgen/pkg/errors"
	"nextgen/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultAdmissionWait = 2 * time.Second

	admissionAccepted = "accepted"
	admissionRejected = "rejected"
	admissionCanceled = "canceled"
)

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	// Workers is the number of jobs that may compile or run at once.
	Workers int
	// QueueSize is how many admitted jobs may wait for a free worker.
	QueueSize int
	// AdmissionWait bounds how long Submit waits for queue space.
	AdmissionWait time.Duration
}

type task struct {
	ctx  context.Context
	job  *model.Job
	done chan error
}

// Pool is a bounded worker pool with explicit admission control.
type Pool struct {
	exec          sandbox.Executor
	tasks         chan *task
	admissionWait time.Duration
	metrics       observer.AdmissionRecorder

	inflight atomic.Int64
	queued   atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts cfg.Workers goroutines that execute submitted jobs.
func NewPool(exec sandbox.Executor, cfg PoolConfig, metrics observer.AdmissionRecorder) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.AdmissionWait <= 0 {
		cfg.AdmissionWait = defaultAdmissionWait
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	p := &Pool{
		exec:          exec,
		tasks:         make(chan *task, cfg.QueueSize),
		admissionWait: cfg.AdmissionWait,
		metrics:       metrics,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.loop()
	}
	return p
}

// Submit admits job and waits for it to finish. It returns JudgeQueueFull when
// no queue slot frees up within the admission wait.
func (p *Pool) Submit(ctx context.Context, job *model.Job) error {
	t := &task{ctx: ctx, job: job, done: make(chan error, 1)}
	if err := p.enqueue(ctx, t); err != nil {
		return err
	}
	// Wait unconditionally: on cancellation the worker kills the process and
	// releases the workspace before reporting back.
	return <-t.done
}

func (p *Pool) enqueue(ctx context.Context, t *task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("worker pool is shut down")
	}

	timer := time.NewTimer(p.admissionWait)
	defer timer.Stop()

	p.metrics.SetQueued(p.queued.Add(1))
	select {
	case p.tasks <- t:
		p.metrics.ObserveAdmission(admissionAccepted)
		return nil
	case <-ctx.Done():
		p.metrics.SetQueued(p.queued.Add(-1))
		p.metrics.ObserveAdmission(admissionCanceled)
		return appErr.Wrapf(ctx.Err(), appErr.Timeout, "request canceled before admission")
	case <-timer.C:
		p.metrics.SetQueued(p.queued.Add(-1))
		p.metrics.ObserveAdmission(admissionRejected)
		logger.Warn(ctx, "worker pool is full", zap.Int64("inflight", p.inflight.Load()), zap.Int64("queued", p.queued.Load()))
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.metrics.SetQueued(p.queued.Add(-1))
		p.metrics.SetInflight(p.inflight.Add(1))
		t.done <- p.run(t)
		p.metrics.SetInflight(p.inflight.Add(-1))
	}
}

func (p *Pool) run(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(t.ctx, "job panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = appErr.New(appErr.JudgeSystemError).WithMessage(fmt.Sprintf("job panicked: %v", r))
		}
	}()
	if ctxErr := t.ctx.Err(); ctxErr != nil {
		_ = t.job.Transition(model.StatusCleaned)
		return appErr.Wrapf(ctxErr, appErr.Timeout, "request canceled while queued")
	}
	return p.exec.Execute(t.ctx, t.job)
}

// Inflight returns the number of jobs currently executing.
func (p *Pool) Inflight() int64 {
	return p.inflight.Load()
}

// Queued returns the number of admitted jobs waiting for a worker.
func (p *Pool) Queued() int64 {
	return p.queued.Load()
}

// Close stops accepting jobs and waits for running ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
