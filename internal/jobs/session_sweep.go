package jobs

import (
	"context"
	"time"
)

// SessionSweeper removes idle capture sessions
type SessionSweeper interface {
	Sweep() int
}

// SessionSweepJob expires abandoned capture sessions
type SessionSweepJob struct {
	sessions SessionSweeper
	interval time.Duration
}

// NewSessionSweepJob creates the sweep job; interval defaults to one minute
func NewSessionSweepJob(sessions SessionSweeper, interval time.Duration) *SessionSweepJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionSweepJob{sessions: sessions, interval: interval}
}

func (j *SessionSweepJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.sessions.Sweep()
	return nil
}

func (j *SessionSweepJob) Interval() time.Duration { return j.interval }
