package status

import (
	"os"
	"path/filepath"

	apperrors "github.com/pipetools/cisync/internal/domain/errors"
	"github.com/pipetools/cisync/internal/manifest"
	"github.com/pipetools/cisync/internal/services/fetch"
)

// State describes how a repository's cached working copy relates to its
// branch marker.
type State string

const (
	// StateSynced means a working copy exists and the marker names its branch.
	StateSynced State = "synced"
	// StateUnverified means a working copy exists without a marker. The next
	// sync discards and re-clones it.
	StateUnverified State = "unverified"
	// StateOrphaned means a marker exists without a working copy.
	StateOrphaned State = "orphaned"
	// StateAbsent means the repository has not been cloned yet.
	StateAbsent State = "absent"
)

type Entry struct {
	Name         string `json:"name"`
	Branch       string `json:"branch,omitempty"`
	MarkerBranch string `json:"marker_branch,omitempty"`
	Cloned       bool   `json:"cloned"`
	State        State  `json:"state"`
	Directory    string `json:"directory"`
}

type Service struct {
	workspace string
	markers   *fetch.MarkerStore
}

func NewService(workspace string) *Service {
	return &Service{workspace: workspace, markers: fetch.NewMarkerStore(workspace)}
}

// List joins the manifest's repositories with the workspace state without
// mutating anything on disk.
func (service *Service) List(parsed *manifest.Manifest) ([]Entry, error) {
	entries := make([]Entry, 0, len(parsed.Repos))
	for _, repo := range parsed.Repos {
		entry, err := service.inspect(repo.Name)
		if err != nil {
			return nil, err
		}

		entry.Branch = repo.Branch
		entries = append(entries, entry)
	}

	return entries, nil
}

func (service *Service) inspect(repoName string) (Entry, error) {
	directory := filepath.Join(service.workspace, repoName)
	entry := Entry{Name: repoName, Directory: directory}

	if info, err := os.Stat(filepath.Join(directory, ".git")); err == nil && info.IsDir() {
		entry.Cloned = true
	}

	marker, markerFound, err := service.markers.Read(repoName)
	if err != nil {
		return Entry{}, apperrors.New(apperrors.KindInternal, "reading branch marker failed", err)
	}
	if markerFound {
		entry.MarkerBranch = marker.Branch
	}

	switch {
	case entry.Cloned && markerFound:
		entry.State = StateSynced
	case entry.Cloned:
		entry.State = StateUnverified
	case markerFound:
		entry.State = StateOrphaned
	default:
		entry.State = StateAbsent
	}

	return entry, nil
}
