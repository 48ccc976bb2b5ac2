package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/egdb/catalog-mirror/internal/vcs"
)

// HasChanges returns true if there are uncommitted changes
// If paths are specified, only checks those paths
func (g *Git) HasChanges(paths ...string) (bool, error) {
	output, err := g.porcelain(paths)
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(output)) > 0, nil
}

// IsTracked reports whether path (file or directory) has tracked content.
func (g *Git) IsTracked(path string) bool {
	cmd := exec.Command("git", "ls-files", "--error-unmatch", "--", path)
	cmd.Dir = g.repoRoot
	return cmd.Run() == nil
}

// Add stages files for commit, including removals of tracked files.
func (g *Git) Add(paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	args := append([]string{"add", "-A", "--"}, paths...)
	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return vcs.NewCommandError(args, output, err)
	}
	return nil
}

// stageable drops paths that git add would reject: gone from disk and no
// longer in the index, as after a deletion that is already staged. Commit
// still records such deletions through its pathspec.
func (g *Git) stageable(paths []string) []string {
	var out []string
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(g.repoRoot, p)
		}
		if _, err := os.Lstat(abs); err == nil || g.IsTracked(p) {
			out = append(out, p)
		}
	}
	return out
}

// Status returns the status of files in the working directory
func (g *Git) Status(paths ...string) ([]vcs.FileStatus, error) {
	output, err := g.porcelain(paths)
	if err != nil {
		return nil, err
	}

	var statuses []vcs.FileStatus
	for _, line := range strings.Split(output, "\n") {
		// Parse status format: XY filename
		// X = staged status, Y = unstaged status
		if len(line) < 4 {
			continue
		}
		statuses = append(statuses, vcs.FileStatus{
			Path:       strings.Trim(strings.TrimSpace(line[3:]), `"`),
			Status:     parseStatusCode(line[1:2]),
			StagedCode: parseStatusCode(line[0:1]),
		})
	}
	return statuses, nil
}

// porcelain runs git status without trimming the leading status column.
func (g *Git) porcelain(paths []string) (string, error) {
	args := []string{"status", "--porcelain", "--untracked-files=all"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoRoot

	output, err := cmd.Output()
	if err != nil {
		var stderr []byte
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = exitErr.Stderr
		}
		return "", vcs.NewCommandError(args, stderr, err)
	}
	return strings.TrimRight(string(output), "\n"), nil
}

// parseStatusCode converts git status code to vcs.StatusCode
func parseStatusCode(code string) vcs.StatusCode {
	switch code {
	case "M":
		return vcs.StatusModified
	case "A":
		return vcs.StatusAdded
	case "D":
		return vcs.StatusDeleted
	case "R":
		return vcs.StatusRenamed
	case "C":
		return vcs.StatusCopied
	case "?":
		return vcs.StatusUntracked
	case "!":
		return vcs.StatusIgnored
	case "U":
		return vcs.StatusConflict
	default:
		return vcs.StatusUnmodified
	}
}

// Commit creates a commit with the specified options
func (g *Git) Commit(ctx context.Context, opts vcs.CommitOptions) error {
	if opts.Message == "" {
		return fmt.Errorf("commit message is required")
	}

	if len(opts.Paths) > 0 {
		if err := g.Add(g.stageable(opts.Paths)); err != nil {
			return err
		}
		changed, err := g.HasChanges(opts.Paths...)
		if err != nil {
			return err
		}
		if !changed {
			return vcs.ErrNothingToCommit
		}
	}

	args := []string{"commit", "-m", opts.Message}
	if opts.Author != "" {
		args = append(args, "--author", opts.Author)
	}
	if opts.NoGPGSign {
		args = append(args, "--no-gpg-sign")
	}
	if opts.NoVerify {
		args = append(args, "--no-verify")
	}

	// Add paths with -- to ensure they're treated as paths
	if len(opts.Paths) > 0 {
		args = append(args, "--")
		args = append(args, opts.Paths...)
	}

	_, err := g.Exec(ctx, args...)
	return err
}
