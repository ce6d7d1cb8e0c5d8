package gitsync

import (
	"sync"
	"time"
)

type schedulerState int

const (
	stateIdle schedulerState = iota
	statePending
	stateCommitting
)

func (s schedulerState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateCommitting:
		return "committing"
	default:
		return "idle"
	}
}

// CommitScheduler coalesces a burst of dirty-marking calls into a single
// commit after a quiet period. Pure debounce: activity restarts the timer,
// it never shortens it. While a conflict session is open the scheduler is
// frozen: the remaining quiet time is preserved so the eventual commit is
// not starved by resolution latency.
type CommitScheduler struct {
	quiet   time.Duration
	commit  func()
	pending func() bool

	mu        sync.Mutex
	state     schedulerState
	timer     *time.Timer
	deadline  time.Time
	frozen    bool
	remaining time.Duration
	closed    bool
}

// NewCommitScheduler wires the debounce loop to a commit action and a
// predicate reporting whether dirty paths remain after a commit.
func NewCommitScheduler(quiet time.Duration, commit func(), pending func() bool) *CommitScheduler {
	return &CommitScheduler{quiet: quiet, commit: commit, pending: pending}
}

// Touch signals new dirty activity and (re)starts the quiet-period timer.
func (s *CommitScheduler) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state == stateCommitting {
		// Paths marked during a commit are picked up right after it finishes.
		return
	}
	wasIdle := s.state == stateIdle
	s.state = statePending
	if s.frozen {
		if wasIdle {
			s.remaining = s.quiet
		}
		return
	}
	s.resetTimerLocked(s.quiet)
}

// ForceSync short-circuits a pending debounce wait and commits now. It never
// cancels an in-flight commit, and while a conflict session is open the
// commit stays deferred until the session closes.
func (s *CommitScheduler) ForceSync() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.frozen {
		s.state = statePending
		s.remaining = 0
		s.mu.Unlock()
		return
	}
	if s.state == stateCommitting {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.state = stateCommitting
	s.mu.Unlock()

	s.commit()
	s.finish()
}

// Freeze suspends the quiet-period timer, keeping its remaining duration.
func (s *CommitScheduler) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.frozen {
		return
	}
	s.frozen = true
	if s.state == statePending && s.timer != nil {
		s.timer.Stop()
		s.remaining = time.Until(s.deadline)
		if s.remaining < 0 {
			s.remaining = 0
		}
	}
}

// Resume restarts the timer with whatever quiet time was left when frozen.
func (s *CommitScheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.frozen {
		return
	}
	s.frozen = false
	if s.state == statePending {
		d := s.remaining
		if d <= 0 {
			d = time.Millisecond
		}
		s.resetTimerLocked(d)
	}
}

// State reports the scheduler state, for status surfaces and tests.
func (s *CommitScheduler) State() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.String(), s.frozen
}

func (s *CommitScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *CommitScheduler) resetTimerLocked(d time.Duration) {
	s.deadline = time.Now().Add(d)
	if s.timer == nil {
		s.timer = time.AfterFunc(d, s.fire)
		return
	}
	s.timer.Reset(d)
}

func (s *CommitScheduler) fire() {
	s.mu.Lock()
	if s.closed || s.state != statePending {
		s.mu.Unlock()
		return
	}
	if s.frozen {
		// Raced with Freeze: commit as soon as the session closes.
		s.remaining = 0
		s.mu.Unlock()
		return
	}
	s.state = stateCommitting
	s.mu.Unlock()

	s.commit()
	s.finish()
}

func (s *CommitScheduler) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.pending != nil && s.pending() {
		// Failed or late-marked paths wait a full quiet period again.
		s.state = statePending
		if s.frozen {
			s.remaining = s.quiet
			return
		}
		s.resetTimerLocked(s.quiet)
		return
	}
	s.state = stateIdle
}
