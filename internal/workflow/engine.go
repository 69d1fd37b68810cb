package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// Handler executes one job. Payload is whatever the dispatcher was given.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Engine is the in-process Dispatcher. One worker drains a bounded queue,
// so a burst of reorder dispatches cannot stall the agents that issued
// them: when the queue is full Create fails fast instead of blocking.
type Engine struct {
	mu        sync.Mutex
	handlers  map[string]Handler
	jobs      map[string]*Job
	queue     chan string
	schedules []schedule

	gron   *gronx.Gronx
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine builds an engine with the given queue capacity.
func NewEngine(queueSize int) *Engine {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Engine{
		handlers: make(map[string]Handler),
		jobs:     make(map[string]*Job),
		queue:    make(chan string, queueSize),
		gron:     gronx.New(),
		done:     make(chan struct{}),
	}
}

// Register binds a handler to a workflow name. Must happen before Start.
func (e *Engine) Register(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = h
}

// Start launches the worker and the cron ticker.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	go e.run(ctx)
}

// Stop drains nothing: queued jobs are abandoned, the running job gets its
// context cancelled.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) Create(name string, payload json.RawMessage) (string, error) {
	e.mu.Lock()
	_, known := e.handlers[name]
	e.mu.Unlock()
	if !known {
		slog.Warn("workflow.unknown", "name", name)
		return "", fmt.Errorf("unknown workflow %q", name)
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now()
	job := &Job{ID: id, Name: name, Payload: payload, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}

	e.mu.Lock()
	e.pruneLocked(now)
	e.jobs[id] = job
	e.mu.Unlock()

	select {
	case e.queue <- id:
	default:
		e.setStatus(id, StatusFailed, "queue full")
		return "", fmt.Errorf("workflow queue full")
	}

	slog.Debug("workflow.queued", "id", id, "name", name)
	return id, nil
}

func (e *Engine) Get(id string) *Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[id]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[id]
	if !ok || job.Status != StatusQueued {
		return false
	}
	job.Status = StatusCancelled
	job.UpdatedAt = time.Now()
	return true
}

// Schedule dispatches a workflow on a cron expression. Checked once a
// minute; a dispatch that misses because the queue is full is skipped until
// the next due tick.
func (e *Engine) Schedule(name, expr string, payload json.RawMessage) error {
	if !e.gron.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	e.mu.Lock()
	e.schedules = append(e.schedules, schedule{name: name, expr: expr, payload: payload})
	e.mu.Unlock()
	return nil
}

type schedule struct {
	name    string
	expr    string
	payload json.RawMessage
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.fireDue(now)
		case id := <-e.queue:
			e.execute(ctx, id)
		}
	}
}

func (e *Engine) fireDue(now time.Time) {
	e.mu.Lock()
	due := make([]schedule, 0)
	for _, s := range e.schedules {
		if ok, err := e.gron.IsDue(s.expr, now); err == nil && ok {
			due = append(due, s)
		}
	}
	e.mu.Unlock()

	for _, s := range due {
		if _, err := e.Create(s.name, s.payload); err != nil {
			slog.Warn("workflow.schedule_skipped", "name", s.name, "error", err)
		}
	}
}

func (e *Engine) execute(ctx context.Context, id string) {
	e.mu.Lock()
	job, ok := e.jobs[id]
	if !ok || job.Status != StatusQueued {
		e.mu.Unlock()
		return
	}
	job.Status = StatusRunning
	job.UpdatedAt = time.Now()
	handler := e.handlers[job.Name]
	name, payload := job.Name, job.Payload
	e.mu.Unlock()

	start := time.Now()
	err := handler(ctx, payload)
	if err != nil {
		e.setStatus(id, StatusFailed, err.Error())
		slog.Warn("workflow.failed", "id", id, "name", name, "error", err, "elapsed", time.Since(start))
		return
	}
	e.setStatus(id, StatusCompleted, "")
	slog.Info("workflow.completed", "id", id, "name", name, "elapsed", time.Since(start))
}

func (e *Engine) setStatus(id, status, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if job, ok := e.jobs[id]; ok {
		job.Status = status
		job.Error = errMsg
		job.UpdatedAt = time.Now()
	}
}

// pruneLocked drops finished jobs older than an hour so the map stays
// bounded across long uptimes.
func (e *Engine) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	for id, job := range e.jobs {
		switch job.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
			if job.UpdatedAt.Before(cutoff) {
				delete(e.jobs, id)
			}
		}
	}
}

var _ Dispatcher = (*Engine)(nil)
