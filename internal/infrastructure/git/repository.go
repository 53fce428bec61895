// Package git shells out to the git CLI for the snapshot checkout. The user's
// own git configuration (credential helpers, ssh agent, signing) applies.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/kilometers-ai/plugsync/internal/core/domain/process"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	procp "github.com/kilometers-ai/plugsync/internal/core/ports/process"
)

// DefaultTimeout bounds every git invocation.
const DefaultTimeout = 60 * time.Second

var (
	ErrNotRepository   = errors.New("not a git repository")
	ErrNothingToCommit = pluginports.ErrNothingToCommit
	ErrNotCommitted    = pluginports.ErrNotCommitted
	ErrNotFastForward  = errors.New("not possible to fast-forward")
	ErrLocalChanges    = errors.New("local changes would be overwritten")
	ErrInvalidPath     = errors.New("path not allowed in explicit add")
	ErrGit             = errors.New("git command failed")
)

// Repository is a git working tree rooted at dir.
type Repository struct {
	runner  procp.Runner
	dir     string
	timeout time.Duration
	logger  hclog.Logger
}

// NewRepository creates a repository handle. A non-positive timeout uses
// DefaultTimeout.
func NewRepository(runner procp.Runner, dir string, timeout time.Duration, logger hclog.Logger) *Repository {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Repository{runner: runner, dir: dir, timeout: timeout, logger: logger}
}

// Dir returns the working tree root.
func (r *Repository) Dir() string { return r.dir }

// IsRepo reports whether dir holds a .git directory or worktree file.
func (r *Repository) IsRepo() bool {
	_, err := os.Stat(filepath.Join(r.dir, ".git"))
	return err == nil
}

// Pull fast-forwards the checkout and returns git's output.
func (r *Repository) Pull(ctx context.Context) (string, error) {
	res, err := r.git(ctx, "pull", "--ff-only")
	out := strings.TrimSpace(res.Combined())
	if err != nil {
		lower := strings.ToLower(out)
		switch {
		case strings.Contains(lower, "would be overwritten"):
			return out, fmt.Errorf("%w: %w", ErrLocalChanges, err)
		case strings.Contains(lower, "fast-forward") || strings.Contains(lower, "diverg"):
			return out, fmt.Errorf("%w: %w", ErrNotFastForward, err)
		}
		return out, err
	}
	return out, nil
}

// Committed returns the content of path at HEAD. A path that HEAD does not
// carry, or a repository without commits, yields ErrNotCommitted.
func (r *Repository) Committed(ctx context.Context, path string) ([]byte, error) {
	if err := validateAddPath(path); err != nil {
		return nil, err
	}
	res, err := r.git(ctx, "show", "HEAD:"+filepath.ToSlash(filepath.Clean(path)))
	if err != nil {
		lower := strings.ToLower(res.ErrorText())
		for _, marker := range []string{"does not exist", "not in 'head'", "invalid object name", "bad revision", "unknown revision"} {
			if strings.Contains(lower, marker) {
				return nil, fmt.Errorf("git show %s: %w", path, ErrNotCommitted)
			}
		}
		return nil, err
	}
	return []byte(res.Stdout), nil
}

// Restore replaces paths in the index and working tree with their HEAD
// content. The same path rules as Add apply.
func (r *Repository) Restore(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return fmt.Errorf("git checkout: %w: empty path list", ErrInvalidPath)
	}
	for _, p := range paths {
		if err := validateAddPath(p); err != nil {
			return err
		}
	}
	_, err := r.git(ctx, append([]string{"checkout", "HEAD", "--"}, paths...)...)
	return err
}

// HasChanges reports whether any of paths differ from HEAD, including
// untracked files. With no paths the whole tree is checked.
func (r *Repository) HasChanges(ctx context.Context, paths ...string) (bool, error) {
	args := []string{"status", "--porcelain"}
	if len(paths) > 0 {
		args = append(append(args, "--"), paths...)
	}
	res, err := r.git(ctx, args...)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// Add stages an explicit list of relative paths. Whole-tree and glob
// arguments are refused.
func (r *Repository) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return fmt.Errorf("git add: %w: empty path list", ErrInvalidPath)
	}
	for _, p := range paths {
		if err := validateAddPath(p); err != nil {
			return err
		}
	}
	_, err := r.git(ctx, append([]string{"add", "--"}, paths...)...)
	return err
}

// Commit records the staged changes.
func (r *Repository) Commit(ctx context.Context, message string) error {
	res, err := r.git(ctx, "commit", "-m", message)
	if err != nil && strings.Contains(strings.ToLower(res.Combined()), "nothing to commit") {
		return fmt.Errorf("git commit: %w", ErrNothingToCommit)
	}
	return err
}

// Push publishes the current branch to its upstream.
func (r *Repository) Push(ctx context.Context) error {
	_, err := r.git(ctx, "push")
	return err
}

func validateAddPath(p string) error {
	clean := filepath.ToSlash(filepath.Clean(p))
	switch {
	case p == "" || clean == "." || clean == "..":
		return fmt.Errorf("git add %q: %w", p, ErrInvalidPath)
	case filepath.IsAbs(p) || strings.HasPrefix(clean, "../"):
		return fmt.Errorf("git add %q: %w: must be inside the repository", p, ErrInvalidPath)
	case strings.ContainsAny(p, "*?[") || strings.HasPrefix(p, ":"):
		return fmt.Errorf("git add %q: %w: patterns are not allowed", p, ErrInvalidPath)
	}
	return nil
}

func (r *Repository) git(ctx context.Context, args ...string) (process.Result, error) {
	cmd, err := process.NewCommand("git", append([]string{"-C", r.dir}, args...)...)
	if err != nil {
		return process.Result{}, err
	}
	cmd = cmd.WithTimeout(r.timeout)

	res, err := r.runner.Run(ctx, cmd)
	if err != nil {
		return res, fmt.Errorf("git %s: %w", args[0], err)
	}
	if res.TimedOut {
		return res, fmt.Errorf("git %s timed out after %s: %w", args[0], r.timeout, ErrGit)
	}
	if !res.Success() {
		r.logger.Debug("git command failed", "args", strings.Join(args, " "), "exit", res.ExitCode, "output", res.ErrorText())
		return res, fmt.Errorf("git %s (exit %d): %s: %w", args[0], res.ExitCode, reasonLine(res.ErrorText()), ErrGit)
	}
	return res, nil
}

// reasonLine picks the line of git's output that says what went wrong: the
// first "error:" or "fatal:" line, otherwise the last line that is not a hint.
// Progress lines such as the fetch banner come first and are skipped.
func reasonLine(s string) string {
	var last string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "" || strings.HasPrefix(line, "hint:"):
			continue
		case strings.HasPrefix(line, "error:") || strings.HasPrefix(line, "fatal:"):
			return line
		}
		last = line
	}
	return last
}

var _ pluginports.VersionControl = (*Repository)(nil)
