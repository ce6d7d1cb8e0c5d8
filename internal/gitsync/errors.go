package gitsync

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoChanges is returned by StageAndCommit when the staged paths do not
// differ from HEAD. No empty commits are ever created.
var ErrNoChanges = errors.New("no changes to commit")

// ErrNonFastForward is returned by Push when the remote has advanced past
// local HEAD. The caller must merge the remote before retrying.
var ErrNonFastForward = errors.New("push rejected: non-fast-forward")

// CredentialError is fatal. Retrying cannot fix bad credentials and risks
// locking the account, so it is surfaced immediately and never retried.
type CredentialError struct {
	Op     string
	Output string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s: credential failure: %s", e.Op, e.Output)
}

// TransientError wraps connectivity failures worth retrying with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// UnresolvedError is returned by FinalizeMerge when conflicted paths remain
// in the index. It signals a contract violation by the caller, not a merge
// failure.
type UnresolvedError struct {
	Paths []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved conflicts: %s", strings.Join(e.Paths, ", "))
}

// classifyRemoteError maps git transport failures onto the engine's error
// taxonomy by inspecting the command output.
func classifyRemoteError(op, output string, err error) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "authentication failed"),
		strings.Contains(lower, "could not read username"),
		strings.Contains(lower, "could not read password"),
		strings.Contains(lower, "invalid username or password"),
		strings.Contains(lower, "permission denied"):
		return &CredentialError{Op: op, Output: strings.TrimSpace(output)}
	case strings.Contains(lower, "non-fast-forward"),
		strings.Contains(lower, "fetch first"),
		strings.Contains(lower, "[rejected]"):
		return ErrNonFastForward
	default:
		return &TransientError{Op: op, Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(output))}
	}
}
