// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gitx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitCreatesCommittableRepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := Init(context.Background(), dir, "Mailroom", "mailroom@localhost")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	recordPath := filepath.Join(dir, "record.json")
	if err := os.WriteFile(recordPath, []byte("{\"seq\":1}\n"), 0o644); err != nil {
		t.Fatalf("write record: %v", err)
	}
	if _, err := repo.Run(context.Background(), "add", "record.json"); err != nil {
		t.Fatalf("git add: %v", err)
	}
	if _, err := repo.Run(context.Background(), "commit", "--quiet", "-m", "record 1"); err != nil {
		t.Fatalf("git commit: %v", err)
	}

	output, err := repo.Run(context.Background(), "log", "--format=%an <%ae> %s")
	if err != nil {
		t.Fatalf("git log: %v", err)
	}
	want := "Mailroom <mailroom@localhost> record 1"
	if strings.TrimSpace(output) != want {
		t.Errorf("log = %q, want %q", strings.TrimSpace(output), want)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := Init(context.Background(), dir, "Mailroom", "mailroom@localhost"); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, err := Init(context.Background(), dir, "Mailroom", "mailroom@localhost"); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestRunErrorIncludesDirAndStderr(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := Init(context.Background(), dir, "Mailroom", "mailroom@localhost")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, err = repo.Run(context.Background(), "not-a-real-command")
	if err == nil {
		t.Fatal("expected error for invalid git subcommand")
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("error = %v, want to contain repository dir %q", err, dir)
	}
}

func TestRunNonexistentDirectory(t *testing.T) {
	t.Parallel()

	repo := NewRepository("/tmp/nonexistent-archive-repo-abcxyz")

	_, err := repo.Run(context.Background(), "status")
	if err == nil {
		t.Fatal("expected error for nonexistent directory")
	}
}

func TestCommandArguments(t *testing.T) {
	t.Parallel()

	repo := NewRepository("/some/dir")

	cmd := repo.Command(context.Background(), "status", "--porcelain")

	// exec.Cmd.Args includes the program name as Args[0].
	expectedArgs := []string{"git", "-C", "/some/dir", "status", "--porcelain"}
	if len(cmd.Args) != len(expectedArgs) {
		t.Fatalf("cmd.Args = %v, want %v", cmd.Args, expectedArgs)
	}
	for i, want := range expectedArgs {
		if cmd.Args[i] != want {
			t.Errorf("cmd.Args[%d] = %q, want %q", i, cmd.Args[i], want)
		}
	}
}

func TestDir(t *testing.T) {
	t.Parallel()

	repo := NewRepository("/path/to/archive")
	if repo.Dir() != "/path/to/archive" {
		t.Errorf("Dir() = %q, want %q", repo.Dir(), "/path/to/archive")
	}
}

func TestRunLocked(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("flock"); err != nil {
		t.Skipf("flock not available: %v", err)
	}

	dir := t.TempDir()
	repo, err := Init(context.Background(), dir, "Mailroom", "mailroom@localhost")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	lockPath := filepath.Join(dir, ".git", "mailroom.lock")

	output, err := repo.RunLocked(context.Background(), lockPath, "status", "--porcelain", "--branch")
	if err != nil {
		t.Fatalf("RunLocked(status): %v", err)
	}
	if !strings.Contains(output, "##") {
		t.Errorf("status output = %q, want branch header", output)
	}

	if _, err := os.Stat(lockPath); err != nil {
		t.Errorf("lock file not created: %v", err)
	}
}
