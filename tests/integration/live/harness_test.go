//go:build live

package live_test

import (
	"bytes"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/pipetools/cisync/internal/cli"
)

// requireLiveEnv skips the test unless every named environment variable is
// set, and returns their values in order.
func requireLiveEnv(t *testing.T, keys ...string) []string {
	t.Helper()

	values := make([]string, 0, len(keys))
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			t.Skipf("%s required for live tests", key)
		}
		values = append(values, value)
	}

	return values
}

func requireGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git executable is required")
	}
}

func runLiveCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	command := cli.NewRootCommand()
	output := &bytes.Buffer{}
	command.SetOut(output)
	command.SetErr(output)
	command.SetIn(&bytes.Buffer{})
	command.SetArgs(args)

	err := command.Execute()
	return output.String(), err
}
