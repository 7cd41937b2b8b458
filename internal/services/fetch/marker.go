package fetch

import (
	"os"
	"path/filepath"
	"strings"
)

// Marker records which branch the working copy next to it has checked out.
// It is persisted as a plain text file named <repo>.branch in the workspace,
// containing exactly the branch name.
type Marker struct {
	RepoName string
	Branch   string
}

type MarkerStore struct {
	workspace string
}

func NewMarkerStore(workspace string) *MarkerStore {
	return &MarkerStore{workspace: workspace}
}

func (store *MarkerStore) Path(repoName string) string {
	return filepath.Join(store.workspace, repoName+".branch")
}

// Read returns the marker for repoName. A missing or empty marker file is
// reported as absent, not as an error.
func (store *MarkerStore) Read(repoName string) (Marker, bool, error) {
	raw, err := os.ReadFile(store.Path(repoName))
	if err != nil {
		if os.IsNotExist(err) {
			return Marker{}, false, nil
		}
		return Marker{}, false, err
	}

	branch := strings.TrimSpace(string(raw))
	if branch == "" {
		return Marker{}, false, nil
	}

	return Marker{RepoName: repoName, Branch: branch}, true, nil
}

func (store *MarkerStore) Write(marker Marker) error {
	if err := os.MkdirAll(store.workspace, 0o755); err != nil {
		return err
	}

	return os.WriteFile(store.Path(marker.RepoName), []byte(marker.Branch+"\n"), 0o644)
}

// Delete is idempotent: removing an absent marker is not an error.
func (store *MarkerStore) Delete(repoName string) error {
	err := os.Remove(store.Path(repoName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
