package testutil

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// CreateBareRepo creates a local bare repository whose HEAD points at
// defaultBranch, with one extra commit on each of the extra branches.
// The returned path can be used as a clone/fetch URL in tests.
func CreateBareRepo(t *testing.T, defaultBranch string, extraBranches ...string) string {
	t.Helper()
	return CreateBareRepoAt(t, filepath.Join(t.TempDir(), "repo.git"), defaultBranch, extraBranches...)
}

// CreateBareRepoAt is CreateBareRepo with a caller-chosen location, for
// fixtures that must mirror a host/namespace/name layout.
func CreateBareRepoAt(t *testing.T, bare string, defaultBranch string, extraBranches ...string) string {
	t.Helper()
	dir := t.TempDir()

	if err := os.MkdirAll(filepath.Dir(bare), 0o755); err != nil {
		t.Fatal(err)
	}

	work := filepath.Join(dir, "work")
	run(t, dir, "git", "init", "-b", defaultBranch, work)
	run(t, work, "git", "config", "user.email", "ci@example.com")
	run(t, work, "git", "config", "user.name", "CI")

	writeFile(t, filepath.Join(work, "README.md"), "# fixture\n")
	run(t, work, "git", "add", ".")
	run(t, work, "git", "commit", "-m", "initial commit")

	for _, branch := range extraBranches {
		run(t, work, "git", "checkout", "-b", branch)
		writeFile(t, filepath.Join(work, branch+".txt"), branch+"\n")
		run(t, work, "git", "add", ".")
		run(t, work, "git", "commit", "-m", "commit on "+branch)
	}

	// HEAD of the bare copy must point at the default branch.
	run(t, work, "git", "checkout", defaultBranch)

	run(t, dir, "git", "clone", "--bare", work, bare)
	return bare
}

// CheckedOutBranch reports the branch a working copy has checked out.
func CheckedOutBranch(t *testing.T, directory string) string {
	t.Helper()
	return output(t, directory, "git", "rev-parse", "--abbrev-ref", "HEAD")
}

// RemoteURL reports the URL configured for a working copy's remote.
func RemoteURL(t *testing.T, directory string, remote string) string {
	t.Helper()
	return output(t, directory, "git", "remote", "get-url", remote)
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func run(t *testing.T, dir string, name string, args ...string) {
	t.Helper()
	command := exec.Command(name, args...)
	command.Dir = dir

	var combined bytes.Buffer
	command.Stdout = &combined
	command.Stderr = &combined

	if err := command.Run(); err != nil {
		t.Fatalf("command %s %v failed: %v\n%s", name, args, err, combined.String())
	}
}

func output(t *testing.T, dir string, name string, args ...string) string {
	t.Helper()
	command := exec.Command(name, args...)
	command.Dir = dir

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		t.Fatalf("command %s %v failed: %v\n%s", name, args, err, stderr.String())
	}

	return strings.TrimSpace(stdout.String())
}
