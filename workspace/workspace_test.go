package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestStaticDescriber(t *testing.T) {
	ctx := context.Background()

	fixed := NewStatic(Description{RootPath: "/repo", Branch: "main"})
	desc, err := fixed.Describe(ctx, "ignored")
	if err != nil {
		t.Fatal(err)
	}
	if desc.RootPath != "/repo" || desc.Branch != "main" {
		t.Fatalf("unexpected description: %+v", desc)
	}

	// Without a configured root the reference itself is used.
	passthrough := NewStatic(Description{Branch: "main"})
	desc, err = passthrough.Describe(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(desc.RootPath) {
		t.Fatalf("root not absolute: %s", desc.RootPath)
	}
}

func TestGitDescribeNonRepoDirectory(t *testing.T) {
	dir := t.TempDir()

	desc, err := NewGit().Describe(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if desc.Branch != "" {
		t.Fatalf("branch reported outside a repository: %q", desc.Branch)
	}
	if !filepath.IsAbs(desc.RootPath) {
		t.Fatalf("root not absolute: %s", desc.RootPath)
	}
}

func TestGitDescribeRejectsMissingOrFilePaths(t *testing.T) {
	g := NewGit()
	ctx := context.Background()

	if _, err := g.Describe(ctx, filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("missing path accepted")
	}

	file := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Describe(ctx, file); err == nil {
		t.Fatal("plain file accepted as workspace")
	}
}

func TestGitDescribeRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skipf("git not available: %v", err)
	}

	dir := t.TempDir()
	ctx := context.Background()

	init := exec.Command("git", "init", "-b", "main", dir)
	if out, err := init.CombinedOutput(); err != nil {
		t.Skipf("git init failed: %v: %s", err, out)
	}
	if err := os.WriteFile(filepath.Join(dir, "dirty.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	desc, err := NewGit().Describe(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if !desc.HasUncommittedChanges {
		t.Fatal("untracked file not reported as uncommitted changes")
	}
	// The toplevel must resolve to the repo directory, possibly through
	// symlinked temp dirs.
	if got, want := filepath.Base(desc.RootPath), filepath.Base(dir); got != want {
		t.Fatalf("unexpected toplevel: %s", desc.RootPath)
	}
}
