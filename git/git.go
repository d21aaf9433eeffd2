package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrInvalidRevision is returned for revision arguments git would parse as
// options.
var ErrInvalidRevision = errors.New("invalid revision")

func checkRevisions(names ...string) error {
	for _, name := range names {
		if name == "" || strings.HasPrefix(name, "-") {
			return fmt.Errorf("%w: %q", ErrInvalidRevision, name)
		}
	}
	return nil
}

// CommandError reports a git invocation that exited unsuccessfully.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s failed", strings.Join(e.Args, " "))
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(": exit code %d", e.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Repo runs git subcommands inside a working directory.
type Repo struct {
	Dir    string
	Binary string
	Logger *slog.Logger
}

func New(dir string, logger *slog.Logger) *Repo {
	return &Repo{Dir: dir, Logger: logger}
}

// Run executes git with args and returns stdout without its trailing newline.
func (r *Repo) Run(ctx context.Context, args ...string) (string, error) {
	out, err := r.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return trimTrailingNewline(out), nil
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	if r.Dir != "" {
		cmd.Dir = r.Dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	if r.Logger != nil {
		r.Logger.Debug("git", "args", args, "dir", r.Dir, "duration", time.Since(started), "err", err)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), ctxErr)
		}
		cmdErr := &CommandError{Args: args, ExitCode: -1, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		return "", cmdErr
	}

	return stdout.String(), nil
}

// AncestryPath lists commit..branch restricted to the ancestry path, each
// line holding a commit followed by its parents, children before parents.
func (r *Repo) AncestryPath(ctx context.Context, commit, branch string) (string, error) {
	if err := checkRevisions(commit, branch); err != nil {
		return "", err
	}
	return r.Run(ctx, "rev-list", "--ancestry-path", "--parents", "--end-of-options", commit+".."+branch)
}

// IsAncestor reports whether commit is reachable from branch.
func (r *Repo) IsAncestor(ctx context.Context, commit, branch string) (bool, error) {
	if err := checkRevisions(commit, branch); err != nil {
		return false, err
	}
	_, err := r.run(ctx, "merge-base", "--is-ancestor", "--end-of-options", commit, branch)
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

// RevParse resolves name to a full object id. Unknown names yield ok == false.
//
// A 40 character hex string is always echoed back, as rev-parse does; append
// "^{commit}" to verify that the object exists.
func (r *Repo) RevParse(ctx context.Context, name string) (string, bool, error) {
	if checkRevisions(name) != nil {
		return "", false, nil
	}
	out, err := r.run(ctx, "rev-parse", "--verify", "-q", name)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
			return "", false, nil
		}
		return "", false, err
	}
	return trimTrailingNewline(out), true, nil
}

// CommitExists reports whether commit names a commit object.
func (r *Repo) CommitExists(ctx context.Context, commit string) (bool, error) {
	_, ok, err := r.RevParse(ctx, commit+"^{commit}")
	return ok, err
}

// Describe returns the abbreviated hash and committer date of commit.
func (r *Repo) Describe(ctx context.Context, commit string) (string, time.Time, error) {
	if err := checkRevisions(commit); err != nil {
		return "", time.Time{}, err
	}
	out, err := r.Run(ctx, "show", "-s", "--format=%h %cI", commit)
	if err != nil {
		return "", time.Time{}, err
	}
	short, date, ok := strings.Cut(strings.TrimSpace(out), " ")
	if !ok {
		return "", time.Time{}, fmt.Errorf("could not describe %s: %q", commit, out)
	}
	committedAt, err := time.Parse(time.RFC3339, date)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("could not describe %s: %w", commit, err)
	}
	return short, committedAt, nil
}

// ShortHash abbreviates a full object id. rev-parse cannot pick a safe short
// name in shallow clones, so this is a fixed-length prefix.
func ShortHash(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8]
}

func trimTrailingNewline(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
