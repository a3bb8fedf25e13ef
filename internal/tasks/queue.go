package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	apperrors "virtgate/internal/errors"
)

// Func is the body of a task. It may call report to publish progress and
// returns the final message.
type Func func(ctx context.Context, report func(message string)) (string, error)

// Broadcaster receives every task status change
type Broadcaster interface {
	BroadcastTask(ctx context.Context, task Task)
}

// Observer records task execution metrics
type Observer interface {
	TaskStarted(ctx context.Context, target string)
	TaskFinished(ctx context.Context, target, status string, d time.Duration)
}

// ErrQueueStopped is returned by Submit after Stop
var ErrQueueStopped = errors.New("task queue is stopped")

type job struct {
	task *Task
	fn   Func
}

// Queue executes submitted tasks on a fixed pool of workers
type Queue struct {
	mu          sync.RWMutex
	jobs        chan job
	workers     int
	wg          sync.WaitGroup
	store       Store
	broadcaster Broadcaster
	observer    Observer
	logger      *slog.Logger
	shutdown    chan struct{}
	stopOnce    sync.Once
	stopped     bool
	active      map[string]*Task
}

// Option configures a Queue
type Option func(*Queue)

// WithBroadcaster publishes status changes to b
func WithBroadcaster(b Broadcaster) Option {
	return func(q *Queue) { q.broadcaster = b }
}

// WithObserver reports execution metrics to o
func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

// NewQueue creates a queue with the given number of workers and room for
// queueSize waiting tasks
func NewQueue(workers, queueSize int, store Store, logger *slog.Logger, opts ...Option) *Queue {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		jobs:     make(chan job, queueSize),
		workers:  workers,
		store:    store,
		logger:   logger.With(slog.String("component", "task_queue")),
		shutdown: make(chan struct{}),
		active:   make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers. They run until ctx ends or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("starting task queue", slog.Int("workers", q.workers))

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop shuts the workers down and fails every task still waiting in the
// queue
func (q *Queue) Stop(timeout time.Duration) error {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()
		close(q.shutdown)
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		q.logger.Warn("task queue stop timeout exceeded")
		return fmt.Errorf("timeout waiting for task workers to finish")
	}

	for {
		select {
		case j := <-q.jobs:
			q.finish(context.Background(), j.task, StatusFailed, "server is shutting down")
		default:
			q.logger.Info("task queue stopped")
			return nil
		}
	}
}

// Submit registers a running task for target and schedules fn. The
// returned task is a snapshot taken before fn starts.
func (q *Queue) Submit(ctx context.Context, target string, fn Func) (*Task, error) {
	q.mu.RLock()
	stopped := q.stopped
	q.mu.RUnlock()
	if stopped {
		return nil, apperrors.NewOperationFailed("unable to start task", ErrQueueStopped)
	}

	now := time.Now()
	task := &Task{
		ID:        uuid.NewString(),
		Target:    target,
		Status:    StatusRunning,
		Message:   "OK",
		CreatedAt: now,
		UpdatedAt: now,
		requestID: middleware.GetReqID(ctx),
	}
	if err := q.store.Create(task); err != nil {
		return nil, apperrors.NewOperationFailed("unable to store task", err)
	}
	snapshot := *task

	// announced before a worker can report the outcome
	q.broadcast(ctx, &snapshot)

	// Stop drains the channel only after it sets stopped
	enqueued := false
	q.mu.Lock()
	stopped = q.stopped
	if !stopped {
		select {
		case q.jobs <- job{task: task, fn: fn}:
			enqueued = true
		default:
		}
	}
	q.mu.Unlock()

	switch {
	case stopped:
		q.finish(ctx, task, StatusFailed, "server is shutting down")
		return nil, apperrors.NewOperationFailed("unable to start task", ErrQueueStopped)
	case !enqueued:
		q.finish(ctx, task, StatusFailed, "task queue is full")
		return nil, apperrors.NewOperationFailed("task queue is full", nil)
	}

	q.logger.InfoContext(ctx, "task submitted",
		slog.String("task_id", task.ID),
		slog.String("target", target))
	return &snapshot, nil
}

// Get returns the current state of the task with id
func (q *Queue) Get(id string) (*Task, error) {
	q.mu.RLock()
	if task, ok := q.active[id]; ok {
		t := *task
		q.mu.RUnlock()
		return &t, nil
	}
	q.mu.RUnlock()

	return q.store.Get(id)
}

// List returns the stored tasks matching filter
func (q *Queue) List(filter Filter) ([]*Task, error) {
	return q.store.List(filter)
}

// Stats summarizes the queue for health reporting
func (q *Queue) Stats() map[string]any {
	q.mu.RLock()
	active := len(q.active)
	q.mu.RUnlock()

	return map[string]any{
		"workers":     q.workers,
		"queued":      len(q.jobs),
		"queue_cap":   cap(q.jobs),
		"active_jobs": active,
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	logger := q.logger.With(slog.Int("worker_id", id))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-q.shutdown:
			logger.Debug("worker stopped by shutdown")
			return
		case j := <-q.jobs:
			q.run(ctx, j, logger)
		}
	}
}

func (q *Queue) run(ctx context.Context, j job, logger *slog.Logger) {
	task := j.task
	if task.requestID != "" {
		ctx = context.WithValue(ctx, middleware.RequestIDKey, task.requestID)
	}
	logger = logger.With(slog.String("task_id", task.ID), slog.String("target", task.Target))
	logger.InfoContext(ctx, "task started")

	q.mu.Lock()
	q.active[task.ID] = task
	q.mu.Unlock()

	if q.observer != nil {
		q.observer.TaskStarted(ctx, task.Target)
	}
	start := time.Now()

	report := func(message string) {
		q.mu.Lock()
		task.Message = message
		task.UpdatedAt = time.Now()
		t := *task
		q.mu.Unlock()

		if err := q.store.Update(&t); err != nil {
			logger.ErrorContext(ctx, "failed to store task progress", slog.String("error", err.Error()))
		}
		q.broadcast(ctx, &t)
	}

	message, err := q.execute(ctx, j.fn, report)

	q.mu.Lock()
	delete(q.active, task.ID)
	q.mu.Unlock()

	status := StatusFinished
	if err != nil {
		logger.ErrorContext(ctx, "task failed", slog.String("error", err.Error()))
		status, message = StatusFailed, err.Error()
	} else {
		if message == "" {
			message = "OK"
		}
		logger.InfoContext(ctx, "task finished", slog.Duration("duration", time.Since(start)))
	}

	q.finish(ctx, task, status, message)
	if q.observer != nil {
		q.observer.TaskFinished(ctx, task.Target, string(status), time.Since(start))
	}
}

// execute runs fn, turning a panic into a task failure
func (q *Queue) execute(ctx context.Context, fn Func, report func(string)) (message string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, report)
}

func (q *Queue) finish(ctx context.Context, task *Task, status Status, message string) {
	q.mu.Lock()
	task.Status = status
	task.Message = message
	task.UpdatedAt = time.Now()
	t := *task
	q.mu.Unlock()

	if err := q.store.Update(&t); err != nil {
		q.logger.ErrorContext(ctx, "failed to store task result",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()))
	}
	q.broadcast(ctx, &t)
}

func (q *Queue) broadcast(ctx context.Context, task *Task) {
	if q.broadcaster != nil {
		q.broadcaster.BroadcastTask(ctx, *task)
	}
}
