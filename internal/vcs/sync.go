package vcs

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SyncOptions configures a publish of the mirror's state.
type SyncOptions struct {
	// Branch to commit on. Empty uses DefaultBranch.
	Branch string

	// Paths are the data paths to publish (database dir, queue file).
	// Absolute paths are made relative to the repository root.
	Paths []string

	// StatsPath is written by WriteStats once changes are known to exist,
	// and committed along with Paths.
	StatsPath  string
	WriteStats func() error

	// RemoteURL resets DefaultRemote before pushing. Empty skips the push.
	RemoteURL string

	Author    string
	NoGPGSign bool

	// Now stamps the commit message. Defaults to time.Now.
	Now func() time.Time

	Logger *log.Logger
}

// SyncResult reports what a publish did.
type SyncResult struct {
	Committed bool
	Pushed    bool
	Message   string
}

// CommitMessage returns the publish commit message for t.
func CommitMessage(t time.Time) string {
	return "Update - " + t.UTC().Format(time.RFC3339)
}

// Sync checks out the publish branch, stages the data paths and, when
// anything changed, writes the stats file, commits and pushes to the
// configured remote. No changes means no commit and no push.
func Sync(ctx context.Context, repo Repo, opts SyncOptions) (*SyncResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[vcs] ", log.LstdFlags)
	}
	branch := opts.Branch
	if branch == "" {
		branch = DefaultBranch
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	root, err := repo.RepoRoot()
	if err != nil {
		return nil, err
	}

	if err := repo.Checkout(ctx, branch); err != nil {
		return nil, fmt.Errorf("failed to check out %s: %w", branch, err)
	}

	paths, err := publishable(repo, root, opts.Paths)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		logger.Printf("Nothing to publish")
		return &SyncResult{}, nil
	}
	if err := repo.Add(paths); err != nil {
		return nil, err
	}

	changed, err := repo.HasChanges(paths...)
	if err != nil {
		return nil, err
	}
	if !changed {
		logger.Printf("No changes to publish")
		return &SyncResult{}, nil
	}

	if opts.StatsPath != "" {
		if opts.WriteStats != nil {
			if err := opts.WriteStats(); err != nil {
				return nil, fmt.Errorf("failed to write stats: %w", err)
			}
		}
		stats, err := relativeTo(root, opts.StatsPath)
		if err != nil {
			return nil, err
		}
		if err := repo.Add([]string{stats}); err != nil {
			return nil, err
		}
		paths = append(paths, stats)
	}

	res := &SyncResult{Message: CommitMessage(now())}
	if err := repo.Commit(ctx, CommitOptions{
		Message:   res.Message,
		Paths:     paths,
		Author:    opts.Author,
		NoGPGSign: opts.NoGPGSign,
	}); err != nil {
		return nil, err
	}
	res.Committed = true
	logger.Printf("Committed %q", res.Message)

	if opts.RemoteURL == "" {
		logger.Printf("WARNING: No remote configured, skipping push")
		return res, nil
	}
	if err := repo.SetRemote(ctx, DefaultRemote, opts.RemoteURL); err != nil {
		return res, err
	}
	if err := repo.Push(ctx, PushOptions{Remote: DefaultRemote, Ref: branch, SetUpstream: true}); err != nil {
		return res, err
	}
	res.Pushed = true
	logger.Printf("Pushed %s to %s", branch, DefaultRemote)
	return res, nil
}

// publishable keeps paths that exist on disk or are tracked (so deletions
// are staged), relative to root.
func publishable(repo Repo, root string, paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		rel, err := relativeTo(root, p)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(filepath.Join(root, rel)); err == nil || repo.IsTracked(rel) {
			out = append(out, rel)
		}
	}
	return out, nil
}

func relativeTo(root, p string) (string, error) {
	if !filepath.IsAbs(p) {
		return p, nil
	}
	// Compare resolved paths; temp dirs are often behind symlinks.
	if resolved, err := filepath.EvalSymlinks(filepath.Dir(p)); err == nil {
		p = filepath.Join(resolved, filepath.Base(p))
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside repository %s", p, root)
	}
	return rel, nil
}
