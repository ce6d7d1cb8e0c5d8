package gitsync

import (
	"context"
	"sync"
	"time"
)

// PullLoop merges the remote into the working tree on a fixed period,
// independent of the commit cadence. A tick is skipped while a conflict
// session is open; there are never two concurrent sessions.
type PullLoop struct {
	c      *SyncCoordinator
	period time.Duration
}

func NewPullLoop(c *SyncCoordinator, period time.Duration) *PullLoop {
	return &PullLoop{c: c, period: period}
}

func (l *PullLoop) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.c.pullOnce()
		}
	}
}
