package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Pinger is anything with a liveness check
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorePingJob records whether the event store is reachable
type StorePingJob struct {
	store    Pinger
	interval time.Duration
	timeout  time.Duration

	mu        sync.RWMutex
	lastErr   error
	lastCheck time.Time
}

// NewStorePingJob creates the ping job
func NewStorePingJob(store Pinger, interval time.Duration) *StorePingJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StorePingJob{store: store, interval: interval, timeout: 5 * time.Second}
}

func (j *StorePingJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	err := j.store.Ping(ctx)

	j.mu.Lock()
	wasDown := j.lastErr != nil
	j.lastErr = err
	j.lastCheck = time.Now()
	j.mu.Unlock()

	if err != nil {
		return fmt.Errorf("event store unreachable: %w", err)
	}
	if wasDown {
		log.Println("✅ [STORE-PING] Event store reachable again")
	}
	return nil
}

func (j *StorePingJob) Interval() time.Duration { return j.interval }

// Status returns the result of the most recent ping
func (j *StorePingJob) Status() (healthy bool, checkedAt time.Time) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastErr == nil, j.lastCheck
}
