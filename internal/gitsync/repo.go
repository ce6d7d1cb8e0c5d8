// Package gitsync keeps a note vault (a git working tree) synchronized with
// a single remote replica. Local writes are coalesced into debounced commits,
// the remote is merged in on a fixed cadence, and merge conflicts are surfaced
// to an external decision maker through a time-bounded conflict session.
package gitsync

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Commit is an immutable record of a commit created through the engine.
type Commit struct {
	Hash    string
	Parents []string
	Message string
	When    time.Time
	Paths   []string
}

// Choice is a per-path conflict resolution.
type Choice string

const (
	// ChoiceLocal keeps the local content and stages it as the resolution.
	ChoiceLocal Choice = "local"
	// ChoiceRemote overwrites the path with the remote content.
	ChoiceRemote Choice = "remote"
	// ChoiceSkip defers the path: it stays conflicted and is excluded from
	// any resolving commit until a real choice or the session deadline.
	ChoiceSkip Choice = "skip"
)

// ConflictFile carries both sides of a conflicted path.
type ConflictFile struct {
	Path   string `json:"path"`
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// MergeResult reports the outcome of FetchAndMerge.
type MergeResult struct {
	UpToDate    bool
	FastForward bool
	Conflicts   []ConflictFile
}

// Repository abstracts the working-tree and index operations the engine
// needs. The engine never touches the tree directly; any implementation
// exposing these operations suffices.
type Repository interface {
	// StageAndCommit stages exactly paths and commits them. Returns
	// ErrNoChanges when the staged content matches HEAD.
	StageAndCommit(ctx context.Context, paths []string, message string) (*Commit, error)
	// Push updates the remote. Returns ErrNonFastForward when the remote has
	// advanced past local HEAD.
	Push(ctx context.Context) error
	// FetchAndMerge fetches the remote and merges it into the working tree,
	// fast-forwarding when possible. Conflicting paths are reported with
	// both content variants and left in their conflicted marker state.
	FetchAndMerge(ctx context.Context) (*MergeResult, error)
	// ApplyResolution resolves one conflicted path with the given choice.
	ApplyResolution(ctx context.Context, path string, choice Choice) error
	// FinalizeMerge commits the in-progress merge, or returns an
	// UnresolvedError listing paths still conflicted.
	FinalizeMerge(ctx context.Context, message string) (*Commit, error)
	// AbortMerge abandons the in-progress merge and restores the tree to its
	// pre-merge state.
	AbortMerge(ctx context.Context) error
	// AheadBehind counts commits local HEAD is ahead of and behind the
	// remote-tracking ref.
	AheadBehind(ctx context.Context) (ahead, behind int, err error)
	// UnmergedFiles lists paths currently conflicted on disk, with both
	// content variants. Used to rebuild conflict state after a restart.
	UnmergedFiles(ctx context.Context) ([]ConflictFile, error)
}

// GitRepository drives a real git working tree. Tree mutations go through
// the git CLI, which owns merge semantics; commit metadata is read with
// go-git.
type GitRepository struct {
	root   string
	remote string
	branch string
}

// NewGitRepository opens the working tree at root. The directory must
// already be a git repository with the remote configured.
func NewGitRepository(root, remote, branch string) (*GitRepository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault path: %w", err)
	}
	if _, err := git.PlainOpen(abs); err != nil {
		return nil, fmt.Errorf("open repository %s: %w", abs, err)
	}
	if remote == "" {
		remote = "origin"
	}
	if branch == "" {
		branch = "main"
	}
	return &GitRepository{root: abs, remote: remote, branch: branch}, nil
}

// Root returns the absolute working-tree path.
func (r *GitRepository) Root() string { return r.root }

func (r *GitRepository) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.root
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	return string(output), err
}

func (r *GitRepository) StageAndCommit(ctx context.Context, paths []string, message string) (*Commit, error) {
	args := append([]string{"add", "-A", "--"}, paths...)
	if out, err := r.run(ctx, args...); err != nil {
		return nil, fmt.Errorf("git add: %w: %s", err, strings.TrimSpace(out))
	}
	// Exit 0 means the index matches HEAD: nothing to commit.
	if _, err := r.run(ctx, "diff", "--cached", "--quiet"); err == nil {
		return nil, ErrNoChanges
	}
	if out, err := r.run(ctx, "commit", "-m", message); err != nil {
		return nil, fmt.Errorf("git commit: %w: %s", err, strings.TrimSpace(out))
	}
	return r.headCommit()
}

func (r *GitRepository) Push(ctx context.Context) error {
	out, err := r.run(ctx, "push", r.remote, r.branch)
	if err != nil {
		return classifyRemoteError("push", out, err)
	}
	return nil
}

func (r *GitRepository) trackingRef() string {
	return r.remote + "/" + r.branch
}

func (r *GitRepository) FetchAndMerge(ctx context.Context) (*MergeResult, error) {
	if out, err := r.run(ctx, "fetch", r.remote); err != nil {
		return nil, classifyRemoteError("fetch", out, err)
	}

	ahead, behind, err := r.AheadBehind(ctx)
	if err != nil {
		return nil, err
	}
	if behind == 0 {
		return &MergeResult{UpToDate: true}, nil
	}
	if ahead == 0 {
		if out, err := r.run(ctx, "merge", "--ff-only", r.trackingRef()); err != nil {
			return nil, fmt.Errorf("git merge --ff-only: %w: %s", err, strings.TrimSpace(out))
		}
		return &MergeResult{FastForward: true}, nil
	}

	out, err := r.run(ctx, "merge", "--no-edit", r.trackingRef())
	if err == nil {
		return &MergeResult{}, nil
	}
	files, uerr := r.UnmergedFiles(ctx)
	if uerr != nil || len(files) == 0 {
		// Failed for a reason other than content conflicts.
		return nil, fmt.Errorf("git merge: %w: %s", err, strings.TrimSpace(out))
	}
	return &MergeResult{Conflicts: files}, nil
}

func (r *GitRepository) ApplyResolution(ctx context.Context, path string, choice Choice) error {
	switch choice {
	case ChoiceSkip:
		return nil
	case ChoiceLocal, ChoiceRemote:
		side := "--ours"
		if choice == ChoiceRemote {
			side = "--theirs"
		}
		out, err := r.run(ctx, "checkout", side, "--", path)
		if err != nil {
			// The chosen side deleted the file: resolve by removing it.
			if strings.Contains(out, "does not have") {
				if out, err := r.run(ctx, "rm", "--", path); err != nil {
					return fmt.Errorf("git rm %s: %w: %s", path, err, strings.TrimSpace(out))
				}
				return nil
			}
			return fmt.Errorf("git checkout %s %s: %w: %s", side, path, err, strings.TrimSpace(out))
		}
		if out, err := r.run(ctx, "add", "--", path); err != nil {
			return fmt.Errorf("git add %s: %w: %s", path, err, strings.TrimSpace(out))
		}
		return nil
	default:
		return fmt.Errorf("unknown resolution choice %q", choice)
	}
}

func (r *GitRepository) FinalizeMerge(ctx context.Context, message string) (*Commit, error) {
	remaining, err := r.unmergedPaths(ctx)
	if err != nil {
		return nil, err
	}
	if len(remaining) > 0 {
		return nil, &UnresolvedError{Paths: remaining}
	}
	if out, err := r.run(ctx, "commit", "-m", message); err != nil {
		return nil, fmt.Errorf("git commit (merge): %w: %s", err, strings.TrimSpace(out))
	}
	return r.headCommit()
}

func (r *GitRepository) AbortMerge(ctx context.Context) error {
	if out, err := r.run(ctx, "merge", "--abort"); err != nil {
		return fmt.Errorf("git merge --abort: %w: %s", err, strings.TrimSpace(out))
	}
	return nil
}

func (r *GitRepository) AheadBehind(ctx context.Context) (int, int, error) {
	repo, err := git.PlainOpen(r.root)
	if err != nil {
		return 0, 0, fmt.Errorf("open repository: %w", err)
	}
	remoteRef := plumbing.NewRemoteReferenceName(r.remote, r.branch)
	if _, err := repo.Reference(remoteRef, true); err != nil {
		// Never fetched or pushed: every local commit is ahead.
		out, err := r.run(ctx, "rev-list", "--count", "HEAD")
		if err != nil {
			return 0, 0, nil
		}
		ahead, _ := parseCount(out)
		return ahead, 0, nil
	}

	out, err := r.run(ctx, "rev-list", "--left-right", "--count", "HEAD..."+r.trackingRef())
	if err != nil {
		return 0, 0, fmt.Errorf("git rev-list: %w: %s", err, strings.TrimSpace(out))
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", strings.TrimSpace(out))
	}
	ahead, _ := parseCount(fields[0])
	behind, _ := parseCount(fields[1])
	return ahead, behind, nil
}

func (r *GitRepository) UnmergedFiles(ctx context.Context) ([]ConflictFile, error) {
	paths, err := r.unmergedPaths(ctx)
	if err != nil {
		return nil, err
	}
	files := make([]ConflictFile, 0, len(paths))
	for _, p := range paths {
		// Stage 2 holds our side, stage 3 theirs. A missing stage means the
		// side deleted the file.
		local, _ := r.run(ctx, "show", fmt.Sprintf(":2:%s", p))
		remote, _ := r.run(ctx, "show", fmt.Sprintf(":3:%s", p))
		files = append(files, ConflictFile{Path: p, Local: local, Remote: remote})
	}
	return files, nil
}

func (r *GitRepository) unmergedPaths(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("git diff --diff-filter=U: %w: %s", err, strings.TrimSpace(out))
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// headCommit reads the commit at HEAD with go-git.
func (r *GitRepository) headCommit() (*Commit, error) {
	repo, err := git.PlainOpen(r.root)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	obj, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("read commit object: %w", err)
	}

	parents := make([]string, 0, len(obj.ParentHashes))
	for _, p := range obj.ParentHashes {
		parents = append(parents, p.String())
	}
	var paths []string
	if stats, err := obj.Stats(); err == nil {
		for _, s := range stats {
			paths = append(paths, s.Name)
		}
		sort.Strings(paths)
	}
	return &Commit{
		Hash:    obj.Hash.String(),
		Parents: parents,
		Message: strings.TrimSpace(obj.Message),
		When:    obj.Author.When,
		Paths:   paths,
	}, nil
}

func parseCount(s string) (int, error) {
	n := 0
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	return n, err
}
