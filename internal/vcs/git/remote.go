package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/egdb/catalog-mirror/internal/vcs"
)

// HasRemote returns true if any remote is configured
func (g *Git) HasRemote() bool {
	cmd := exec.Command("git", "remote")
	cmd.Dir = g.repoRoot

	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(output))) > 0
}

// RemoteURL returns the fetch URL of the named remote.
func (g *Git) RemoteURL(name string) (string, error) {
	cmd := exec.Command("git", "remote", "get-url", name)
	cmd.Dir = g.repoRoot

	output, err := cmd.Output()
	if err != nil {
		return "", vcs.ErrNoRemote
	}
	return strings.TrimSpace(string(output)), nil
}

// SetRemote removes any existing remote called name and re-adds it with url,
// so a rotated credential in the URL always takes effect.
func (g *Git) SetRemote(ctx context.Context, name, url string) error {
	if url == "" {
		return vcs.ErrNoRemote
	}
	if _, err := g.RemoteURL(name); err == nil {
		if _, err := g.Exec(ctx, "remote", "remove", name); err != nil {
			return err
		}
	}
	_, err := g.Exec(ctx, "remote", "add", name, url)
	return err
}

// Push pushes changes to the remote
func (g *Git) Push(ctx context.Context, opts vcs.PushOptions) error {
	if !g.HasRemote() {
		return vcs.ErrNoRemote
	}

	remote := opts.Remote
	if remote == "" {
		remote = vcs.DefaultRemote
	}

	ref := opts.Ref
	if ref == "" {
		var err error
		ref, err = g.CurrentRef()
		if err != nil {
			return err
		}
		if ref == "" {
			return vcs.ErrDetached
		}
	}

	args := []string{"push"}
	if opts.SetUpstream {
		args = append(args, "-u")
	}
	args = append(args, remote, ref)

	output, err := g.Exec(ctx, args...)
	if err != nil && ctx.Err() == nil {
		out := string(output)
		if strings.Contains(out, "rejected") || strings.Contains(out, "non-fast-forward") {
			return fmt.Errorf("%w: %s", vcs.ErrPushRejected, vcs.Redact(strings.TrimSpace(out)))
		}
	}
	return err
}
