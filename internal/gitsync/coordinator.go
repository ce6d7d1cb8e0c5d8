package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Notifier receives engine events for the decision surface. Implementations
// must not block; long work belongs on their own goroutines.
type Notifier interface {
	OnConflictOpened(ConflictSnapshot)
	OnConflictClosed(ConflictSnapshot)
	OnSyncError(err error)
}

type nopNotifier struct{}

func (nopNotifier) OnConflictOpened(ConflictSnapshot) {}
func (nopNotifier) OnConflictClosed(ConflictSnapshot) {}
func (nopNotifier) OnSyncError(error)                 {}

// SyncState is a read-only snapshot for status reporting.
type SyncState struct {
	LastPushTime time.Time `json:"lastPushTime"`
	LastPullTime time.Time `json:"lastPullTime"`
	LocalAhead   int       `json:"localAhead"`
	RemoteAhead  int       `json:"remoteAhead"`
	LastError    string    `json:"lastError,omitempty"`
}

// Options tune the engine. Zero values fall back to the defaults below.
type Options struct {
	// QuietPeriod is the debounce window: a commit happens once no dirty
	// mark has arrived for this long. Default 30s.
	QuietPeriod time.Duration
	// PullInterval is the remote merge cadence. Default 60s.
	PullInterval time.Duration
	// ConflictWindow bounds how long a conflict session stays open before
	// the default choice is applied. Default 30m.
	ConflictWindow time.Duration
	// DefaultChoice is applied to every path still undecided when a session
	// expires. Deterministic by contract; remote-wins unless configured
	// otherwise. Default ChoiceRemote.
	DefaultChoice Choice
	// RetryAttempts bounds retries of transient network failures. Default 3.
	RetryAttempts int
	// RetryBaseDelay is the first backoff step; it doubles per attempt.
	// Default 1s.
	RetryBaseDelay time.Duration
	// Notifier receives conflict and degradation events. Optional.
	Notifier Notifier
}

func (o *Options) applyDefaults() {
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = 30 * time.Second
	}
	if o.PullInterval <= 0 {
		o.PullInterval = 60 * time.Second
	}
	if o.ConflictWindow <= 0 {
		o.ConflictWindow = 30 * time.Minute
	}
	if o.DefaultChoice != ChoiceLocal {
		o.DefaultChoice = ChoiceRemote
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.Notifier == nil {
		o.Notifier = nopNotifier{}
	}
}

// errConflictPending marks a commit cycle interrupted by a merge conflict.
// Not a failure: the session takes over and the dirty paths are retried
// after it closes.
var errConflictPending = errors.New("merge conflict pending resolution")

// SyncCoordinator owns the working tree. Every tree-mutating operation runs
// under its tree mutex, so a commit, a pull/merge and a conflict resolution
// never interleave. Producers only ever touch DirtyState.
type SyncCoordinator struct {
	repo     Repository
	opts     Options
	notifier Notifier

	dirty *DirtyState
	sched *CommitScheduler
	pull  *PullLoop

	treeMu sync.Mutex

	stateMu sync.Mutex
	state   SyncState

	sessMu    sync.Mutex
	session   *ConflictSession
	sessTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles the engine around a repository. Nothing runs until Start.
func New(repo Repository, opts Options) *SyncCoordinator {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &SyncCoordinator{
		repo:     repo,
		opts:     opts,
		notifier: opts.Notifier,
		dirty:    NewDirtyState(),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.sched = NewCommitScheduler(opts.QuietPeriod, c.commitCycle, func() bool {
		return c.dirty.Len() > 0
	})
	c.pull = NewPullLoop(c, opts.PullInterval)
	return c
}

// SetNotifier replaces the notifier. Must be called before Start; it exists
// because the decision surface usually needs the coordinator to construct
// itself first.
func (c *SyncCoordinator) SetNotifier(n Notifier) {
	if n != nil {
		c.notifier = n
	}
}

// Start rebuilds in-memory state from the repository and launches the pull
// loop. An interrupted merge left on disk reopens a conflict session with a
// fresh resolution window.
func (c *SyncCoordinator) Start() error {
	var files []ConflictFile
	err := c.withTree(func(ctx context.Context) error {
		var err error
		files, err = c.repo.UnmergedFiles(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("inspect repository: %w", err)
	}
	c.refreshCounts()
	if len(files) > 0 {
		log.Printf("gitsync: found %d conflicted path(s) on startup, reopening session", len(files))
		c.openSession(files)
	}
	c.wg.Add(1)
	go c.pull.run(c.ctx, &c.wg)
	return nil
}

// Close cancels in-flight network calls, stops every timer and waits for the
// loops to drain. The tree is left in whatever consistent state the last
// completed operation produced.
func (c *SyncCoordinator) Close() {
	c.cancel()
	c.sched.Stop()
	c.sessMu.Lock()
	if c.sessTimer != nil {
		c.sessTimer.Stop()
		c.sessTimer = nil
	}
	c.sessMu.Unlock()
	c.wg.Wait()
}

// MarkDirty unions paths into the dirty set and nudges the debounce timer.
// Safe from any goroutine; never blocks on the tree.
func (c *SyncCoordinator) MarkDirty(paths ...string) {
	marked := false
	for _, p := range paths {
		if p != "" {
			marked = true
			break
		}
	}
	if !marked {
		return
	}
	c.dirty.MarkDirty(paths...)
	c.sched.Touch()
}

// ForceSync commits and pushes now, bypassing the quiet period. It returns
// after the attempt completes (or is deferred behind an open conflict
// session).
func (c *SyncCoordinator) ForceSync() {
	c.sched.ForceSync()
}

// GetSyncState returns a read-only snapshot for status reporting.
func (c *SyncCoordinator) GetSyncState() SyncState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// withTree runs fn holding the tree lock. The lock is held only for the
// duration of the git operation, never across a timer wait.
func (c *SyncCoordinator) withTree(fn func(ctx context.Context) error) error {
	c.treeMu.Lock()
	defer c.treeMu.Unlock()
	return fn(c.ctx)
}

// commitCycle drains the dirty set, commits and pushes. On failure the
// drained paths are restored so they are never lost.
func (c *SyncCoordinator) commitCycle() {
	paths := c.dirty.DrainAll()
	if len(paths) == 0 && c.GetSyncState().LocalAhead == 0 {
		// Forced sync with nothing dirty and nothing to deliver: no-op.
		return
	}
	err := c.withTree(func(ctx context.Context) error {
		if len(paths) > 0 {
			_, err := c.repo.StageAndCommit(ctx, paths, commitMessage(len(paths)))
			if err != nil && !errors.Is(err, ErrNoChanges) {
				return fmt.Errorf("commit: %w", err)
			}
		}
		return c.pushWithRecovery(ctx)
	})
	if err != nil {
		c.dirty.Restore(paths)
		if errors.Is(err, errConflictPending) {
			// Normal transition into a conflict session, not a failure.
			return
		}
		c.reportError(err)
		return
	}
	c.recordPush()
}

// pushWithRecovery pushes, and on a non-fast-forward rejection merges the
// remote in and retries once. A conflict during that merge opens a session
// and defers the push until it closes.
func (c *SyncCoordinator) pushWithRecovery(ctx context.Context) error {
	err := c.pushRetry(ctx)
	if err == nil || !errors.Is(err, ErrNonFastForward) {
		return err
	}
	result, mergeErr := c.fetchRetry(ctx)
	if mergeErr != nil {
		return fmt.Errorf("merge before push retry: %w", mergeErr)
	}
	if len(result.Conflicts) > 0 {
		c.openSession(result.Conflicts)
		return errConflictPending
	}
	if err := c.pushRetry(ctx); err != nil {
		return fmt.Errorf("push retry after merge: %w", err)
	}
	return nil
}

// pullOnce is one tick of the pull loop: fetch and merge the remote unless a
// conflict session is already open.
func (c *SyncCoordinator) pullOnce() {
	if c.hasOpenSession() {
		return
	}
	var result *MergeResult
	err := c.withTree(func(ctx context.Context) error {
		var err error
		result, err = c.fetchRetry(ctx)
		return err
	})
	if err != nil {
		c.reportError(fmt.Errorf("pull: %w", err))
		return
	}
	if len(result.Conflicts) > 0 {
		c.openSession(result.Conflicts)
		return
	}
	c.recordPull()
}

func (c *SyncCoordinator) pushRetry(ctx context.Context) error {
	return c.retryTransient(ctx, func() error { return c.repo.Push(ctx) })
}

func (c *SyncCoordinator) fetchRetry(ctx context.Context) (*MergeResult, error) {
	var result *MergeResult
	err := c.retryTransient(ctx, func() error {
		var err error
		result, err = c.repo.FetchAndMerge(ctx)
		return err
	})
	return result, err
}

// retryTransient retries op with exponential backoff, but only for
// TransientError. Credential failures and non-fast-forward rejections pass
// straight through.
func (c *SyncCoordinator) retryTransient(ctx context.Context, op func() error) error {
	delay := c.opts.RetryBaseDelay
	var err error
	for attempt := 0; attempt < c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		err = op()
		var transient *TransientError
		if err == nil || !errors.As(err, &transient) {
			return err
		}
	}
	return err
}

func (c *SyncCoordinator) recordPush() {
	c.stateMu.Lock()
	c.state.LastPushTime = time.Now()
	c.state.LastError = ""
	c.stateMu.Unlock()
	c.refreshCounts()
}

func (c *SyncCoordinator) recordPull() {
	c.stateMu.Lock()
	c.state.LastPullTime = time.Now()
	c.state.LastError = ""
	c.stateMu.Unlock()
	c.refreshCounts()
}

func (c *SyncCoordinator) refreshCounts() {
	var ahead, behind int
	err := c.withTree(func(ctx context.Context) error {
		var err error
		ahead, behind, err = c.repo.AheadBehind(ctx)
		return err
	})
	if err != nil {
		return
	}
	c.stateMu.Lock()
	c.state.LocalAhead = ahead
	c.state.RemoteAhead = behind
	c.stateMu.Unlock()
}

func (c *SyncCoordinator) reportError(err error) {
	log.Printf("gitsync: %v", err)
	c.stateMu.Lock()
	c.state.LastError = err.Error()
	c.stateMu.Unlock()
	c.notifier.OnSyncError(err)
}

func commitMessage(n int) string {
	if n == 1 {
		return "vault: update 1 path"
	}
	return fmt.Sprintf("vault: update %d paths", n)
}
