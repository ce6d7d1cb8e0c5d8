package gitsync

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// gitEnv runs git with a fixed identity so commits work on a bare CI image.
func gitEnv(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		"GIT_TERMINAL_PROMPT=0",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func writeVaultFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// setupRemotePair builds a bare remote with one seed commit and two clones,
// simulating the bot's vault and a second device.
func setupRemotePair(t *testing.T) (bare, cloneA, cloneB string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	base := t.TempDir()
	bare = filepath.Join(base, "remote.git")
	cloneA = filepath.Join(base, "vault-a")
	cloneB = filepath.Join(base, "vault-b")

	gitEnv(t, base, "init", "--bare", "-b", "main", bare)

	seed := filepath.Join(base, "seed")
	gitEnv(t, base, "init", "-b", "main", seed)
	gitEnv(t, seed, "config", "user.name", "test")
	gitEnv(t, seed, "config", "user.email", "test@example.com")
	writeVaultFile(t, seed, "inbox/welcome.md", "# Welcome\n")
	gitEnv(t, seed, "add", "-A")
	gitEnv(t, seed, "commit", "-m", "seed vault")
	gitEnv(t, seed, "remote", "add", "origin", bare)
	gitEnv(t, seed, "push", "origin", "main")

	gitEnv(t, base, "clone", bare, cloneA)
	gitEnv(t, cloneA, "config", "user.name", "test")
	gitEnv(t, cloneA, "config", "user.email", "test@example.com")
	gitEnv(t, base, "clone", bare, cloneB)
	gitEnv(t, cloneB, "config", "user.name", "test")
	gitEnv(t, cloneB, "config", "user.email", "test@example.com")
	return bare, cloneA, cloneB
}

func openRepo(t *testing.T, root string) *GitRepository {
	t.Helper()
	repo, err := NewGitRepository(root, "origin", "main")
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	return repo
}

func TestStageAndCommitThenPush(t *testing.T) {
	_, cloneA, _ := setupRemotePair(t)
	repo := openRepo(t, cloneA)
	ctx := context.Background()

	writeVaultFile(t, cloneA, "notes/idea.md", "# Idea\n")
	commit, err := repo.StageAndCommit(ctx, []string{"notes/idea.md"}, "vault: update 1 path")
	if err != nil {
		t.Fatalf("StageAndCommit: %v", err)
	}
	if commit.Message != "vault: update 1 path" {
		t.Fatalf("commit message = %q", commit.Message)
	}
	if len(commit.Paths) != 1 || commit.Paths[0] != "notes/idea.md" {
		t.Fatalf("commit paths = %v", commit.Paths)
	}

	ahead, behind, err := repo.AheadBehind(ctx)
	if err != nil {
		t.Fatalf("AheadBehind: %v", err)
	}
	if ahead != 1 || behind != 0 {
		t.Fatalf("ahead/behind before push = %d/%d, want 1/0", ahead, behind)
	}

	if err := repo.Push(ctx); err != nil {
		t.Fatalf("Push: %v", err)
	}
	ahead, behind, err = repo.AheadBehind(ctx)
	if err != nil {
		t.Fatalf("AheadBehind: %v", err)
	}
	if ahead != 0 || behind != 0 {
		t.Fatalf("ahead/behind after push = %d/%d, want 0/0", ahead, behind)
	}
}

func TestStageAndCommitNoChanges(t *testing.T) {
	_, cloneA, _ := setupRemotePair(t)
	repo := openRepo(t, cloneA)

	_, err := repo.StageAndCommit(context.Background(), []string{"inbox/welcome.md"}, "noop")
	if !errors.Is(err, ErrNoChanges) {
		t.Fatalf("err = %v, want ErrNoChanges", err)
	}
}

func TestFetchAndMergeFastForward(t *testing.T) {
	_, cloneA, cloneB := setupRemotePair(t)
	repo := openRepo(t, cloneA)
	ctx := context.Background()

	writeVaultFile(t, cloneB, "notes/other-device.md", "written elsewhere\n")
	gitEnv(t, cloneB, "add", "-A")
	gitEnv(t, cloneB, "commit", "-m", "from device B")
	gitEnv(t, cloneB, "push", "origin", "main")

	result, err := repo.FetchAndMerge(ctx)
	if err != nil {
		t.Fatalf("FetchAndMerge: %v", err)
	}
	if !result.FastForward || len(result.Conflicts) != 0 {
		t.Fatalf("result = %+v, want fast-forward", result)
	}
	if _, err := os.Stat(filepath.Join(cloneA, "notes/other-device.md")); err != nil {
		t.Fatalf("fast-forwarded file missing: %v", err)
	}

	// A second pull with nothing new is up to date.
	result, err = repo.FetchAndMerge(ctx)
	if err != nil {
		t.Fatalf("FetchAndMerge: %v", err)
	}
	if !result.UpToDate {
		t.Fatalf("result = %+v, want up to date", result)
	}
}

func TestPushRejectedNonFastForward(t *testing.T) {
	_, cloneA, cloneB := setupRemotePair(t)
	repo := openRepo(t, cloneA)
	ctx := context.Background()

	writeVaultFile(t, cloneB, "notes/b.md", "b\n")
	gitEnv(t, cloneB, "add", "-A")
	gitEnv(t, cloneB, "commit", "-m", "from device B")
	gitEnv(t, cloneB, "push", "origin", "main")

	writeVaultFile(t, cloneA, "notes/a.md", "a\n")
	if _, err := repo.StageAndCommit(ctx, []string{"notes/a.md"}, "local"); err != nil {
		t.Fatalf("StageAndCommit: %v", err)
	}
	if err := repo.Push(ctx); !errors.Is(err, ErrNonFastForward) {
		t.Fatalf("Push err = %v, want ErrNonFastForward", err)
	}
}

// divergeOnFile commits different content for the same path on both clones
// and pushes clone B first, so clone A's merge conflicts.
func divergeOnFile(t *testing.T, repo *GitRepository, cloneA, cloneB, rel, localContent, remoteContent string) *MergeResult {
	t.Helper()
	ctx := context.Background()

	writeVaultFile(t, cloneB, rel, remoteContent)
	gitEnv(t, cloneB, "add", "-A")
	gitEnv(t, cloneB, "commit", "-m", "remote edit")
	gitEnv(t, cloneB, "push", "origin", "main")

	writeVaultFile(t, cloneA, rel, localContent)
	if _, err := repo.StageAndCommit(ctx, []string{rel}, "local edit"); err != nil {
		t.Fatalf("StageAndCommit: %v", err)
	}

	result, err := repo.FetchAndMerge(ctx)
	if err != nil {
		t.Fatalf("FetchAndMerge: %v", err)
	}
	return result
}

func TestConflictResolutionKeepLocal(t *testing.T) {
	_, cloneA, cloneB := setupRemotePair(t)
	repo := openRepo(t, cloneA)
	ctx := context.Background()

	result := divergeOnFile(t, repo, cloneA, cloneB, "inbox/welcome.md", "# Welcome\n\nlocal edit\n", "# Welcome\n\nremote edit\n")
	if len(result.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v, want 1", result.Conflicts)
	}
	file := result.Conflicts[0]
	if file.Path != "inbox/welcome.md" {
		t.Fatalf("conflict path = %q", file.Path)
	}
	if !strings.Contains(file.Local, "local edit") || !strings.Contains(file.Remote, "remote edit") {
		t.Fatalf("conflict sides wrong: local=%q remote=%q", file.Local, file.Remote)
	}

	if err := repo.ApplyResolution(ctx, file.Path, ChoiceLocal); err != nil {
		t.Fatalf("ApplyResolution: %v", err)
	}
	commit, err := repo.FinalizeMerge(ctx, "merge: resolve 1 conflicted path(s)")
	if err != nil {
		t.Fatalf("FinalizeMerge: %v", err)
	}
	if len(commit.Parents) != 2 {
		t.Fatalf("merge commit parents = %d, want 2", len(commit.Parents))
	}

	raw, err := os.ReadFile(filepath.Join(cloneA, "inbox/welcome.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "# Welcome\n\nlocal edit\n" {
		t.Fatalf("resolved content = %q, want the local side", raw)
	}

	if err := repo.Push(ctx); err != nil {
		t.Fatalf("Push after merge: %v", err)
	}
}

func TestConflictResolutionTakeRemote(t *testing.T) {
	_, cloneA, cloneB := setupRemotePair(t)
	repo := openRepo(t, cloneA)
	ctx := context.Background()

	result := divergeOnFile(t, repo, cloneA, cloneB, "inbox/welcome.md", "local version\n", "remote version\n")
	if len(result.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v, want 1", result.Conflicts)
	}

	if err := repo.ApplyResolution(ctx, "inbox/welcome.md", ChoiceRemote); err != nil {
		t.Fatalf("ApplyResolution: %v", err)
	}
	if _, err := repo.FinalizeMerge(ctx, "merge"); err != nil {
		t.Fatalf("FinalizeMerge: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(cloneA, "inbox/welcome.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "remote version\n" {
		t.Fatalf("resolved content = %q, want the remote side", raw)
	}
}

func TestFinalizeMergeRefusesUnresolvedPaths(t *testing.T) {
	_, cloneA, cloneB := setupRemotePair(t)
	repo := openRepo(t, cloneA)

	divergeOnFile(t, repo, cloneA, cloneB, "inbox/welcome.md", "local\n", "remote\n")

	_, err := repo.FinalizeMerge(context.Background(), "merge")
	var unresolved *UnresolvedError
	if !errors.As(err, &unresolved) {
		t.Fatalf("err = %v, want UnresolvedError", err)
	}
	if len(unresolved.Paths) != 1 || unresolved.Paths[0] != "inbox/welcome.md" {
		t.Fatalf("unresolved paths = %v", unresolved.Paths)
	}
}

func TestAbortMergeRestoresPreMergeContent(t *testing.T) {
	_, cloneA, cloneB := setupRemotePair(t)
	repo := openRepo(t, cloneA)
	ctx := context.Background()

	divergeOnFile(t, repo, cloneA, cloneB, "inbox/welcome.md", "local\n", "remote\n")

	if err := repo.AbortMerge(ctx); err != nil {
		t.Fatalf("AbortMerge: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(cloneA, "inbox/welcome.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "local\n" {
		t.Fatalf("content after abort = %q, want the pre-merge local bytes", raw)
	}

	files, err := repo.UnmergedFiles(ctx)
	if err != nil {
		t.Fatalf("UnmergedFiles: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("unmerged after abort = %v, want none", files)
	}
}

func TestUnmergedFilesSurvivesRestart(t *testing.T) {
	_, cloneA, cloneB := setupRemotePair(t)
	repo := openRepo(t, cloneA)

	divergeOnFile(t, repo, cloneA, cloneB, "inbox/welcome.md", "local\n", "remote\n")

	// A fresh instance over the same tree sees the interrupted merge.
	reopened := openRepo(t, cloneA)
	files, err := reopened.UnmergedFiles(context.Background())
	if err != nil {
		t.Fatalf("UnmergedFiles: %v", err)
	}
	if len(files) != 1 || files[0].Path != "inbox/welcome.md" {
		t.Fatalf("unmerged = %+v", files)
	}
	if !strings.Contains(files[0].Local, "local") || !strings.Contains(files[0].Remote, "remote") {
		t.Fatalf("unmerged sides wrong: %+v", files[0])
	}
}
