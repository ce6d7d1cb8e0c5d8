package gitsync

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"
)

// SessionStatus is the lifecycle state of a conflict session.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionResolved SessionStatus = "resolved"
	SessionExpired  SessionStatus = "expired"
	SessionAborted  SessionStatus = "aborted"
)

// ConflictSession surfaces a conflicted merge to the decision surface. At
// most one session is open per process; a second conflicting pull while one
// is open is deferred, not opened. The coordinator guards status and choices.
type ConflictSession struct {
	ID        string
	OpenedAt  time.Time
	ExpiresAt time.Time
	Files     []ConflictFile

	status  SessionStatus
	choices map[string]Choice
}

// ConflictSnapshot is a read-only copy of a session handed to notifiers and
// status surfaces.
type ConflictSnapshot struct {
	ID        string            `json:"id"`
	OpenedAt  time.Time         `json:"openedAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Status    SessionStatus     `json:"status"`
	Files     []ConflictFile    `json:"files"`
	Choices   map[string]Choice `json:"choices"`
}

func (s *ConflictSession) snapshot() ConflictSnapshot {
	choices := make(map[string]Choice, len(s.choices))
	for p, c := range s.choices {
		choices[p] = c
	}
	files := make([]ConflictFile, len(s.Files))
	copy(files, s.Files)
	return ConflictSnapshot{
		ID:        s.ID,
		OpenedAt:  s.OpenedAt,
		ExpiresAt: s.ExpiresAt,
		Status:    s.status,
		Files:     files,
		Choices:   choices,
	}
}

func (s *ConflictSession) hasFile(path string) bool {
	for _, f := range s.Files {
		if f.Path == path {
			return true
		}
	}
	return false
}

// decided reports whether every path has a Local or Remote choice. Skip does
// not count: it defers the path until a later choice or the deadline.
func (s *ConflictSession) decided() bool {
	for _, f := range s.Files {
		c, ok := s.choices[f.Path]
		if !ok || c == ChoiceSkip {
			return false
		}
	}
	return true
}

func newSessionID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "merge_" + hex.EncodeToString(b)
}

// openSession records a new open session, freezes the commit scheduler and
// notifies the decision surface. Callers must ensure no session is open.
func (c *SyncCoordinator) openSession(files []ConflictFile) {
	c.sessMu.Lock()
	if c.session != nil && c.session.status == SessionOpen {
		c.sessMu.Unlock()
		return
	}
	now := time.Now()
	session := &ConflictSession{
		ID:        newSessionID(),
		OpenedAt:  now,
		ExpiresAt: now.Add(c.opts.ConflictWindow),
		Files:     files,
		status:    SessionOpen,
		choices:   make(map[string]Choice),
	}
	c.session = session
	id := session.ID
	c.sessTimer = time.AfterFunc(c.opts.ConflictWindow, func() {
		// A timer that fires during shutdown must not race Close with
		// git calls on a cancelled context.
		if c.ctx.Err() != nil {
			return
		}
		c.closeSession(id, SessionExpired)
	})
	snap := session.snapshot()
	c.sessMu.Unlock()

	c.sched.Freeze()
	log.Printf("gitsync: conflict session %s opened (%d paths, window %s)",
		snap.ID, len(snap.Files), c.opts.ConflictWindow)
	c.notifier.OnConflictOpened(snap)
}

// CurrentSession returns a snapshot of the open session, if any.
func (c *SyncCoordinator) CurrentSession() (ConflictSnapshot, bool) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.session == nil || c.session.status != SessionOpen {
		return ConflictSnapshot{}, false
	}
	return c.session.snapshot(), true
}

func (c *SyncCoordinator) hasOpenSession() bool {
	_, ok := c.CurrentSession()
	return ok
}

// SubmitResolution records a choice for one conflicting path. Once every
// path has a Local or Remote choice the session resolves and the merge is
// finalized. Calls against a closed or unknown session are no-ops.
func (c *SyncCoordinator) SubmitResolution(sessionID, path string, choice Choice) bool {
	c.sessMu.Lock()
	s := c.session
	if s == nil || s.ID != sessionID || s.status != SessionOpen || !s.hasFile(path) {
		c.sessMu.Unlock()
		return false
	}
	s.choices[path] = choice
	done := s.decided()
	c.sessMu.Unlock()

	if done {
		c.closeSession(sessionID, SessionResolved)
	}
	return true
}

// AbortSession abandons the merge and restores the tree to its pre-merge
// state. Late calls are no-ops.
func (c *SyncCoordinator) AbortSession(sessionID string) bool {
	return c.closeSession(sessionID, SessionAborted)
}

// closeSession drives the terminal transition: Resolved applies the stored
// choices, Expired first fills every undecided path with the configured
// default, Aborted hard-resets the merge. Exactly one caller wins; the
// deadline timer and a final SubmitResolution cannot both close a session.
func (c *SyncCoordinator) closeSession(sessionID string, terminal SessionStatus) bool {
	if c.ctx.Err() != nil {
		// Shutting down: the session dies with the process and the merge
		// state on disk is rebuilt by the next Start.
		return false
	}
	c.sessMu.Lock()
	s := c.session
	if s == nil || s.ID != sessionID || s.status != SessionOpen {
		c.sessMu.Unlock()
		return false
	}
	s.status = terminal
	if c.sessTimer != nil {
		c.sessTimer.Stop()
		c.sessTimer = nil
	}
	if terminal == SessionExpired {
		for _, f := range s.Files {
			if ch, ok := s.choices[f.Path]; !ok || ch == ChoiceSkip {
				s.choices[f.Path] = c.opts.DefaultChoice
			}
		}
	}
	snap := s.snapshot()
	c.sessMu.Unlock()

	switch terminal {
	case SessionAborted:
		if err := c.withTree(func(ctx context.Context) error {
			return c.repo.AbortMerge(ctx)
		}); err != nil {
			c.reportError(err)
		}
		log.Printf("gitsync: conflict session %s aborted, tree restored", snap.ID)
	default:
		err := c.withTree(func(ctx context.Context) error {
			for _, f := range snap.Files {
				if err := c.repo.ApplyResolution(ctx, f.Path, snap.Choices[f.Path]); err != nil {
					return fmt.Errorf("apply %s for %s: %w", snap.Choices[f.Path], f.Path, err)
				}
			}
			if _, err := c.repo.FinalizeMerge(ctx, mergeMessage(snap)); err != nil {
				return fmt.Errorf("finalize merge: %w", err)
			}
			return nil
		})
		if err != nil {
			c.reportError(err)
		} else {
			c.recordPull()
			log.Printf("gitsync: conflict session %s closed (%s)", snap.ID, terminal)
		}
	}

	c.sched.Resume()
	c.notifier.OnConflictClosed(snap)
	return true
}

func mergeMessage(snap ConflictSnapshot) string {
	return fmt.Sprintf("merge: resolve %d conflicted path(s)", len(snap.Files))
}
