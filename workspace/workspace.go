// Package workspace resolves a session's workspace reference into the
// metadata reported back to clients: the root path, the checked-out branch
// and whether the tree has uncommitted changes.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const gitTimeout = 10 * time.Second

// Description is the resolved metadata of one workspace.
type Description struct {
	// RootPath is the absolute directory tools operate under. For git
	// repositories this is the repository toplevel.
	RootPath string `json:"rootPath"`
	// Branch is the checked-out branch, empty outside a repository or on a
	// detached HEAD.
	Branch string `json:"branch,omitempty"`
	// HasUncommittedChanges reports a dirty tree.
	HasUncommittedChanges bool `json:"hasUncommittedChanges"`
}

// Describer resolves a workspace reference.
type Describer interface {
	Describe(ctx context.Context, ref string) (*Description, error)
}

// Git describes workspaces using the git CLI. A directory outside any
// repository is still a valid workspace; it just carries no branch info.
type Git struct{}

func NewGit() *Git {
	return &Git{}
}

var _ Describer = (*Git)(nil)

// Describe implements Describer.
func (g *Git) Describe(ctx context.Context, ref string) (*Description, error) {
	abs, err := filepath.Abs(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", ref, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", ref)
	}

	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	desc := &Description{RootPath: abs}

	toplevel, err := gitCmd(ctx, abs, "rev-parse", "--show-toplevel")
	if err != nil {
		// Not a repository.
		return desc, nil
	}
	desc.RootPath = strings.TrimSpace(toplevel)

	if branch, err := gitCmd(ctx, abs, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		b := strings.TrimSpace(branch)
		if b != "HEAD" {
			desc.Branch = b
		}
	}

	if status, err := gitCmd(ctx, abs, "status", "--porcelain"); err == nil {
		desc.HasUncommittedChanges = strings.TrimSpace(status) != ""
	}

	return desc, nil
}

// gitCmd runs a git command with the given context and working directory.
// Returns combined stdout as a string.
func gitCmd(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Static returns fixed metadata for every reference. It serves embedders and
// tests that do not want the git CLI involved.
type Static struct {
	desc Description
}

func NewStatic(desc Description) *Static {
	return &Static{desc: desc}
}

var _ Describer = (*Static)(nil)

// Describe implements Describer. An empty configured RootPath falls back to
// the reference itself.
func (s *Static) Describe(ctx context.Context, ref string) (*Description, error) {
	desc := s.desc
	if desc.RootPath == "" {
		abs, err := filepath.Abs(ref)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", ref, err)
		}
		desc.RootPath = abs
	}
	return &desc, nil
}
