package ancestry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dhcgn/patchtrack/model"
)

var (
	// ErrEmptyCommit is returned when asked to resolve an empty commit name.
	ErrEmptyCommit = errors.New("commit is empty")
	// ErrInvalidName rejects commit and branch names that start with "-".
	ErrInvalidName = errors.New("invalid commit or branch name")
	// ErrUnknownCommit is returned when the graph does not know the commit.
	ErrUnknownCommit = errors.New("unknown commit")
)

// Graph is the part of the VCS access layer the resolver needs.
type Graph interface {
	// AncestryPath returns `rev-list --ancestry-path --parents commit..branch`.
	AncestryPath(ctx context.Context, commit, branch string) (string, error)
	// IsAncestor reports whether commit is reachable from branch.
	IsAncestor(ctx context.Context, commit, branch string) (bool, error)
}

// CommitChecker is implemented by graphs that can tell whether a commit
// exists before querying its ancestry.
type CommitChecker interface {
	CommitExists(ctx context.Context, commit string) (bool, error)
}

// Describer looks up the abbreviated hash and committer date of a commit.
type Describer interface {
	Describe(ctx context.Context, commit string) (string, time.Time, error)
}

type Options struct {
	// Remote is prefixed to branch names, e.g. "upstream" turns "master"
	// into "upstream/master". Empty uses branch names as given.
	Remote string
	// Describe fills Short and CommittedAt of integrated results when the
	// graph also implements Describer.
	Describe bool
}

// Resolver identifies the merge commit that integrated a commit into an
// upstream branch. It holds no per-query state and is safe for concurrent use.
type Resolver struct {
	graph  Graph
	opts   Options
	logger *slog.Logger
}

func NewResolver(graph Graph, opts Options, logger *slog.Logger) (*Resolver, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	return &Resolver{graph: graph, opts: opts, logger: logger}, nil
}

// BranchRef returns the revision the resolver compares against for branch.
func (r *Resolver) BranchRef(branch string) string {
	remote := strings.TrimSuffix(r.opts.Remote, "/")
	if remote == "" {
		return branch
	}
	return remote + "/" + branch
}

// Resolve determines whether and how commit reached branch.
//
// An empty ancestry path is ambiguous: either commit is not reachable from
// branch, or commit is the branch tip itself. A single ancestry check tells
// the two apart.
func (r *Resolver) Resolve(ctx context.Context, branch, commit string) (model.Integration, error) {
	commit = strings.TrimSpace(commit)
	if commit == "" {
		return model.Integration{}, ErrEmptyCommit
	}
	if strings.HasPrefix(commit, "-") || strings.HasPrefix(branch, "-") {
		return model.Integration{}, fmt.Errorf("%w: %q %q", ErrInvalidName, branch, commit)
	}
	ref := r.BranchRef(branch)

	if checker, ok := r.graph.(CommitChecker); ok {
		exists, err := checker.CommitExists(ctx, commit)
		if err != nil {
			return model.Integration{}, fmt.Errorf("check %s: %w", commit, err)
		}
		if !exists {
			return model.Integration{}, fmt.Errorf("%w: %s", ErrUnknownCommit, commit)
		}
	}

	listing, err := r.graph.AncestryPath(ctx, commit, ref)
	if err != nil {
		return model.Integration{}, fmt.Errorf("ancestry path %s..%s: %w", commit, ref, err)
	}

	entries, err := ParseListing(listing)
	if err != nil {
		return model.Integration{}, fmt.Errorf("ancestry path %s..%s: %w", commit, ref, err)
	}

	var result model.Integration
	if len(entries) == 0 {
		result = model.Integration{Target: commit, State: model.NotIntegrated}
		reachable, err := r.graph.IsAncestor(ctx, commit, ref)
		if err != nil {
			return model.Integration{}, fmt.Errorf("is-ancestor %s %s: %w", commit, ref, err)
		}
		if reachable {
			result.State = model.IntegratedDirectly
			result.Commit = commit
		}
	} else {
		result, err = Identify(entries, commit)
		if err != nil {
			return model.Integration{}, fmt.Errorf("ancestry path %s..%s: %w", commit, ref, err)
		}
	}
	result.Branch = branch

	if r.logger != nil {
		r.logger.Debug("resolved integration", "commit", commit, "branch", ref, "state", result.State, "via", result.Commit, "entries", len(entries))
	}

	if r.opts.Describe && result.Integrated() {
		if describer, ok := r.graph.(Describer); ok {
			short, committedAt, err := describer.Describe(ctx, result.Commit)
			if err != nil {
				return model.Integration{}, fmt.Errorf("describe %s: %w", result.Commit, err)
			}
			result.Short = short
			result.CommittedAt = committedAt
		}
	}

	return result, nil
}
