// Package vcs publishes the mirror's on-disk state to a version-controlled
// remote.
//
// The Repo interface covers the handful of operations a publish needs:
// branch checkout, staging, status, commit, remote reset and push.
// internal/vcs/git implements it by shelling out to git.
//
// # Usage
//
//	repo, err := git.New(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := vcs.Sync(ctx, repo, vcs.SyncOptions{
//	    Branch:    "main",
//	    Paths:     []string{"database", "ns-queue.json"},
//	    RemoteURL: os.Getenv("GIT_REMOTE"),
//	})
package vcs

import "context"

// Repo is a working copy the mirror can publish from.
type Repo interface {
	// RepoRoot returns the repository root directory path.
	RepoRoot() (string, error)

	// CurrentRef returns the current branch name, or "" when HEAD is detached.
	CurrentRef() (string, error)

	// Checkout switches to branch, creating it when it doesn't exist.
	Checkout(ctx context.Context, branch string) error

	// IsTracked reports whether path is known to the index.
	IsTracked(path string) bool

	// Add stages paths, including deletions of tracked files.
	Add(paths []string) error

	// HasChanges returns true if there are uncommitted changes.
	// If paths are specified, only checks those paths.
	HasChanges(paths ...string) (bool, error)

	// Status returns the status of files in the working directory.
	Status(paths ...string) ([]FileStatus, error)

	// Commit creates a commit with the specified options.
	Commit(ctx context.Context, opts CommitOptions) error

	// SetRemote points name at url, replacing any existing definition.
	SetRemote(ctx context.Context, name, url string) error

	// Push pushes a branch to a remote.
	Push(ctx context.Context, opts PushOptions) error
}

// FileStatus represents the status of a file in the working directory
type FileStatus struct {
	// Path is the file path relative to repository root
	Path string

	// Status is the working directory status
	Status StatusCode

	// StagedCode is the staging area status
	StagedCode StatusCode
}

// StatusCode represents file status codes
type StatusCode string

const (
	StatusUnmodified StatusCode = " " // No changes
	StatusModified   StatusCode = "M" // Modified
	StatusAdded      StatusCode = "A" // Added/new file
	StatusDeleted    StatusCode = "D" // Deleted
	StatusRenamed    StatusCode = "R" // Renamed
	StatusCopied     StatusCode = "C" // Copied
	StatusUntracked  StatusCode = "?" // Untracked
	StatusIgnored    StatusCode = "!" // Ignored
	StatusConflict   StatusCode = "U" // Unmerged/conflict
)

// CommitOptions configures a commit operation
type CommitOptions struct {
	// Message is the commit message (required)
	Message string

	// Paths limits the commit to these files. Empty = all staged changes.
	Paths []string

	// Author overrides the commit author (optional, format: "Name <email>")
	Author string

	// NoGPGSign disables GPG signing
	NoGPGSign bool

	// NoVerify skips pre-commit hooks
	NoVerify bool
}

// PushOptions configures a push operation
type PushOptions struct {
	// Remote is the remote name. Empty uses origin.
	Remote string

	// Ref is the branch to push. Empty uses the current branch.
	Ref string

	// SetUpstream configures the upstream tracking reference
	SetUpstream bool
}

// DefaultBranch is the branch the mirror publishes to.
const DefaultBranch = "main"

// DefaultRemote is the remote name reset from the configured URL on each publish.
const DefaultRemote = "origin"
