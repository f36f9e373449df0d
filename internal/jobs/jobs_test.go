package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct{ calls atomic.Int32 }

func (c *countingSweeper) Sweep() int {
	c.calls.Add(1)
	return 0
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestSchedulerRunsSweepJob(t *testing.T) {
	sched, err := NewJobScheduler()
	if err != nil {
		t.Fatalf("NewJobScheduler: %v", err)
	}
	sweeper := &countingSweeper{}
	if err := sched.Register("session-sweep", NewSessionSweepJob(sweeper, 20*time.Millisecond)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := sched.Register("session-sweep", NewSessionSweepJob(sweeper, time.Second)); err == nil {
		t.Error("duplicate registration should fail")
	}

	sched.Start()
	deadline := time.Now().Add(2 * time.Second)
	for sweeper.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sched.Stop()

	if sweeper.calls.Load() < 2 {
		t.Errorf("expected at least 2 sweeps, got %d", sweeper.calls.Load())
	}
	if _, ok := sched.GetStatus()["session-sweep"]; !ok {
		t.Error("status should list the registered job")
	}
}

func TestRunNow(t *testing.T) {
	sched, err := NewJobScheduler()
	if err != nil {
		t.Fatalf("NewJobScheduler: %v", err)
	}
	sweeper := &countingSweeper{}
	if err := sched.Register("sweep", NewSessionSweepJob(sweeper, time.Hour)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := sched.RunNow("sweep"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if sweeper.calls.Load() != 1 {
		t.Errorf("expected 1 sweep, got %d", sweeper.calls.Load())
	}
	if err := sched.RunNow("missing"); err == nil {
		t.Error("RunNow on unknown job should fail")
	}
}

func TestSessionSweepJobDefaultInterval(t *testing.T) {
	if got := NewSessionSweepJob(&countingSweeper{}, 0).Interval(); got != time.Minute {
		t.Errorf("default interval = %v, want 1m", got)
	}
}

func TestStorePingJob(t *testing.T) {
	job := NewStorePingJob(stubPinger{err: errors.New("no reachable servers")}, 0)
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected ping failure")
	}
	if healthy, _ := job.Status(); healthy {
		t.Error("status should be unhealthy after failed ping")
	}

	job.store = stubPinger{}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if healthy, at := job.Status(); !healthy || at.IsZero() {
		t.Error("status should be healthy after successful ping")
	}
}
