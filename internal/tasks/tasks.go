// Package tasks runs statement imports in the background: a buffered
// queue, a small worker pool and an in-memory record per task. The
// pipeline's claim guard makes duplicate deliveries harmless, so the
// runner never retries; a failed task stays failed and the import row
// carries the user-facing error.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a background task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	// ErrQueueFull is returned when the queue has no room; callers
	// should surface it as a retryable condition.
	ErrQueueFull = errors.New("task queue full")
	// ErrStopped is returned when the runner no longer accepts work.
	ErrStopped = errors.New("task runner stopped")
)

// Task is one background pipeline run.
type Task struct {
	ID            string     `json:"id"`
	ImportID      string     `json:"import_id"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Status        Status     `json:"status"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Handler processes one import end to end.
type Handler func(ctx context.Context, importID, correlationID string) error

// Runner owns the queue, the worker pool and the task records. Records
// live in memory for the lifetime of the process, matching the
// single-instance deployment this service targets.
type Runner struct {
	handler Handler
	queue   chan string
	quit    chan struct{}

	mu     sync.RWMutex
	tasks  map[string]*Task
	closed bool

	workers int
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// NewRunner creates a stopped runner; call Start to spawn the workers.
func NewRunner(workers, queueSize int, handler Handler, logger *zap.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		handler: handler,
		queue:   make(chan string, queueSize),
		quit:    make(chan struct{}),
		tasks:   make(map[string]*Task),
		workers: workers,
		baseCtx: ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Enqueue registers a task and queues it for a worker. It never blocks:
// a full queue is ErrQueueFull, which maps to "try again shortly".
func (r *Runner) Enqueue(importID, correlationID string) (*Task, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrStopped
	}
	task := &Task{
		ID:            uuid.New().String(),
		ImportID:      importID,
		CorrelationID: correlationID,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	r.tasks[task.ID] = task
	r.mu.Unlock()

	select {
	case r.queue <- task.ID:
		r.logger.Info("task enqueued",
			zap.String("task_id", task.ID),
			zap.String("import_id", importID),
		)
		return r.snapshot(task.ID), nil
	default:
		r.mu.Lock()
		delete(r.tasks, task.ID)
		r.mu.Unlock()
		return nil, ErrQueueFull
	}
}

// Get returns a copy of a task record.
func (r *Runner) Get(taskID string) (*Task, bool) {
	t := r.snapshot(taskID)
	return t, t != nil
}

func (r *Runner) snapshot(taskID string) *Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// Start spawns the worker pool.
func (r *Runner) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.logger.Info("task runner started", zap.Int("workers", r.workers))
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.quit:
			return
		case taskID := <-r.queue:
			r.run(taskID)
		}
	}
}

// run drives one task through its lifecycle. The handler gets the
// runner's base context, not the enqueueing request's: processing must
// outlive the HTTP request that triggered it. A handler panic fails the
// task, not the worker.
func (r *Runner) run(taskID string) {
	start := time.Now().UTC()
	r.update(taskID, func(t *Task) {
		t.Status = StatusRunning
		t.StartedAt = &start
	})

	var importID, correlationID string
	if t := r.snapshot(taskID); t != nil {
		importID, correlationID = t.ImportID, t.CorrelationID
	}

	err := r.safeHandle(importID, correlationID)

	finished := time.Now().UTC()
	r.update(taskID, func(t *Task) {
		t.FinishedAt = &finished
		if err != nil {
			t.Status = StatusFailed
			t.Error = err.Error()
		} else {
			t.Status = StatusCompleted
		}
	})

	if err != nil {
		r.logger.Error("task failed",
			zap.String("task_id", taskID),
			zap.String("import_id", importID),
			zap.Duration("elapsed", finished.Sub(start)),
			zap.Error(err),
		)
		return
	}
	r.logger.Info("task completed",
		zap.String("task_id", taskID),
		zap.String("import_id", importID),
		zap.Duration("elapsed", finished.Sub(start)),
	)
}

func (r *Runner) safeHandle(importID, correlationID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task handler panic",
				zap.String("import_id", importID),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return r.handler(r.baseCtx, importID, correlationID)
}

func (r *Runner) update(taskID string, fn func(*Task)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[taskID]; ok {
		fn(t)
	}
}

// Stop stops accepting work and waits for in-flight tasks to finish.
// Tasks still queued stay pending; their import rows remain claimable
// after a restart. When ctx expires first, in-flight handlers are
// canceled and ctx's error is returned.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	close(r.quit)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("task runner drained")
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
