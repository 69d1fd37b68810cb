package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func waitStatus(t *testing.T, e *Engine, id, want string) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job := e.Get(id); job != nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job := e.Get(id)
	t.Fatalf("job %s never reached %s, last seen %+v", id, want, job)
	return nil
}

func TestEngineRunsJob(t *testing.T) {
	e := NewEngine(8)

	got := make(chan json.RawMessage, 1)
	e.Register("echo", func(_ context.Context, payload json.RawMessage) error {
		got <- payload
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	id, err := e.Create("echo", json.RawMessage(`{"sku":"W1"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	waitStatus(t, e, id, StatusCompleted)
	select {
	case payload := <-got:
		if string(payload) != `{"sku":"W1"}` {
			t.Errorf("payload = %s", payload)
		}
	default:
		t.Error("handler never ran")
	}
}

func TestEngineFailedJob(t *testing.T) {
	e := NewEngine(8)
	e.Register("boom", func(context.Context, json.RawMessage) error {
		return errors.New("exploded")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	id, err := e.Create("boom", nil)
	if err != nil {
		t.Fatal(err)
	}
	job := waitStatus(t, e, id, StatusFailed)
	if job.Error != "exploded" {
		t.Errorf("job error = %q", job.Error)
	}
}

func TestCreateUnknownWorkflow(t *testing.T) {
	e := NewEngine(8)
	if _, err := e.Create("nope", nil); err == nil {
		t.Fatal("unknown workflow accepted")
	}
}

func TestCreateQueueFull(t *testing.T) {
	// Engine never started: the queue fills and the second create fails fast.
	e := NewEngine(1)
	e.Register("noop", func(context.Context, json.RawMessage) error { return nil })

	if _, err := e.Create("noop", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Create("noop", nil); err == nil {
		t.Fatal("second create succeeded on a full queue")
	}
}

func TestCancelQueuedJob(t *testing.T) {
	e := NewEngine(8)
	e.Register("noop", func(context.Context, json.RawMessage) error { return nil })

	id, err := e.Create("noop", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Cancel(id) {
		t.Fatal("cancel of queued job failed")
	}
	if job := e.Get(id); job.Status != StatusCancelled {
		t.Errorf("status = %q, want cancelled", job.Status)
	}
	// Cancelling twice is a no-op.
	if e.Cancel(id) {
		t.Error("second cancel succeeded")
	}
	if e.Cancel("unknown") {
		t.Error("cancel of unknown job succeeded")
	}
}

func TestGetUnknownJob(t *testing.T) {
	e := NewEngine(8)
	if job := e.Get("missing"); job != nil {
		t.Errorf("got %+v, want nil", job)
	}
}

func TestScheduleValidation(t *testing.T) {
	e := NewEngine(8)
	if err := e.Schedule("noop", "not a cron", nil); err == nil {
		t.Error("invalid cron expression accepted")
	}
	if err := e.Schedule("noop", "*/5 * * * *", nil); err != nil {
		t.Errorf("valid cron expression rejected: %v", err)
	}
}
