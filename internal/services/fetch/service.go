package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/pipetools/cisync/internal/domain/errors"
	"github.com/pipetools/cisync/internal/git"
)

const (
	DefaultRetryCount = 3
	DefaultRetryDelay = 10 * time.Second
)

type Outcome string

const (
	// OutcomeRefreshed means an existing valid working copy was reused and
	// fetched in place.
	OutcomeRefreshed Outcome = "refreshed"
	// OutcomeCloned means a fresh copy of the desired branch was cloned.
	OutcomeCloned Outcome = "cloned"
	// OutcomeFallback means the fallback branch was cloned instead of the
	// desired one. This is degraded success, not failure.
	OutcomeFallback Outcome = "fallback"
)

type Target struct {
	Host           string
	Namespace      string
	Name           string
	Branch         string
	FallbackBranch string
}

// Credentials are only used to format the authenticated remote URL.
type Credentials struct {
	Username string
	Token    string
}

type Policy struct {
	RetryCount int
	RetryDelay time.Duration
}

func (policy Policy) withDefaults() Policy {
	if policy.RetryCount < 1 {
		policy.RetryCount = DefaultRetryCount
	}
	if policy.RetryDelay < 0 {
		policy.RetryDelay = DefaultRetryDelay
	}

	return policy
}

type Result struct {
	Repository string  `json:"repository"`
	Branch     string  `json:"branch"`
	Outcome    Outcome `json:"outcome"`
	Directory  string  `json:"directory"`
}

type Service struct {
	backend   git.Backend
	workspace string
	markers   *MarkerStore
}

func NewService(backend git.Backend, workspace string) *Service {
	return &Service{
		backend:   backend,
		workspace: workspace,
		markers:   NewMarkerStore(workspace),
	}
}

func (service *Service) Markers() *MarkerStore {
	return service.markers
}

func (service *Service) RepositoryDirectory(repoName string) string {
	return filepath.Join(service.workspace, repoName)
}

// Ensure makes a working copy of the target repository available in the
// workspace on the desired branch, falling back to the fallback branch when
// the desired one is unavailable. Existing copies are reused only when the
// branch marker proves they are on the expected branch; anything else is
// discarded and cloned fresh.
func (service *Service) Ensure(ctx context.Context, target Target, credentials Credentials, policy Policy) (Result, error) {
	if err := validateTarget(target); err != nil {
		return Result{}, err
	}
	policy = policy.withDefaults()

	remoteURL, err := target.RemoteURL(credentials)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(service.workspace, 0o755); err != nil {
		return Result{}, apperrors.New(apperrors.KindInternal, fmt.Sprintf("creating workspace %s failed", service.workspace), err)
	}

	desiredExists, err := service.backend.BranchExists(ctx, remoteURL, target.Branch)
	if err != nil {
		return Result{}, apperrors.New(apperrors.KindTransient, fmt.Sprintf("checking branch %s of %s failed", target.Branch, target.Name), err)
	}

	expected := target.Branch
	if !desiredExists {
		expected = target.FallbackBranch
	}

	directory := service.RepositoryDirectory(target.Name)
	directoryPresent, copyExists, err := inspectWorkingCopy(directory)
	if err != nil {
		return Result{}, apperrors.New(apperrors.KindInternal, fmt.Sprintf("inspecting %s failed", directory), err)
	}

	marker, markerFound, err := service.markers.Read(target.Name)
	if err != nil {
		return Result{}, apperrors.New(apperrors.KindInternal, "reading branch marker failed", err)
	}

	if checkoutValid(marker, markerFound, copyExists, expected) {
		if err := service.refresh(ctx, directory, remoteURL); err != nil {
			return Result{}, err
		}

		return Result{Repository: target.Name, Branch: expected, Outcome: OutcomeRefreshed, Directory: directory}, nil
	}

	if err := service.discard(target.Name, directory, directoryPresent); err != nil {
		return Result{}, err
	}

	branch := expected
	cloneErr := service.cloneWithRetries(ctx, remoteURL, directory, expected, policy)
	if cloneErr != nil {
		if expected == target.FallbackBranch {
			return Result{}, apperrors.New(
				apperrors.KindExhausted,
				fmt.Sprintf("cloning %s on %s failed after %d attempts", target.Name, expected, policy.RetryCount),
				cloneErr,
			)
		}

		// The desired branch may have disappeared between the existence
		// check and the clone. The fallback gets its own attempt budget.
		fallbackErr := service.cloneWithRetries(ctx, remoteURL, directory, target.FallbackBranch, policy)
		if fallbackErr != nil {
			return Result{}, apperrors.New(
				apperrors.KindExhausted,
				fmt.Sprintf("cloning %s failed on both %s and %s", target.Name, expected, target.FallbackBranch),
				errors.Join(cloneErr, fallbackErr),
			)
		}
		branch = target.FallbackBranch
	}

	if err := service.markers.Write(Marker{RepoName: target.Name, Branch: branch}); err != nil {
		return Result{}, apperrors.New(apperrors.KindInternal, "writing branch marker failed", err)
	}

	outcome := OutcomeCloned
	if branch != target.Branch {
		outcome = OutcomeFallback
	}

	return Result{Repository: target.Name, Branch: branch, Outcome: outcome, Directory: directory}, nil
}

// checkoutValid is the single place cache validity is decided: an existing
// working copy is reusable only when its marker names exactly the branch this
// run expects to find checked out.
func checkoutValid(marker Marker, markerFound bool, copyExists bool, expectedBranch string) bool {
	if !copyExists || !markerFound {
		return false
	}

	return marker.Branch == expectedBranch
}

func (service *Service) refresh(ctx context.Context, directory string, remoteURL string) error {
	// Credentials can rotate between runs, so the remote is rewritten before
	// fetching.
	if err := service.backend.SetRemoteURL(ctx, directory, "origin", remoteURL); err != nil {
		return err
	}

	return service.backend.Fetch(ctx, directory, git.FetchOptions{Prune: true})
}

func (service *Service) discard(repoName string, directory string, directoryPresent bool) error {
	if directoryPresent {
		if err := os.RemoveAll(directory); err != nil {
			return apperrors.New(apperrors.KindInternal, fmt.Sprintf("removing stale working copy %s failed", directory), err)
		}
	}

	if err := service.markers.Delete(repoName); err != nil {
		return apperrors.New(apperrors.KindInternal, "removing stale branch marker failed", err)
	}

	return nil
}

func (service *Service) cloneWithRetries(ctx context.Context, remoteURL string, directory string, branch string, policy Policy) error {
	var lastErr error
	for attempt := 1; attempt <= policy.RetryCount; attempt++ {
		err := service.backend.Clone(ctx, remoteURL, git.CloneOptions{
			Directory:    directory,
			Branch:       branch,
			Depth:        1,
			SingleBranch: true,
		})
		if err == nil {
			return nil
		}
		lastErr = err

		// A failed attempt can leave a partial directory behind.
		_ = os.RemoveAll(directory)

		if attempt < policy.RetryCount && policy.RetryDelay > 0 {
			time.Sleep(policy.RetryDelay)
		}
	}

	return lastErr
}

func inspectWorkingCopy(directory string) (directoryPresent bool, copyExists bool, err error) {
	if _, statErr := os.Stat(directory); statErr != nil {
		if os.IsNotExist(statErr) {
			return false, false, nil
		}
		return false, false, statErr
	}

	info, statErr := os.Stat(filepath.Join(directory, ".git"))
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return true, false, nil
		}
		return true, false, statErr
	}

	return true, info.IsDir(), nil
}

// RemoteURL formats the authenticated clone URL for the target. file://
// hosts are accepted for local mirrors; credentials only apply to http(s).
func (target Target) RemoteURL(credentials Credentials) (string, error) {
	host := strings.TrimSpace(target.Host)
	if host == "" {
		return "", apperrors.New(apperrors.KindValidation, "target host is required", nil)
	}

	if !strings.Contains(host, "://") {
		host = "https://" + host
	}

	parsed, err := url.Parse(host)
	if err != nil || (parsed.Host == "" && parsed.Scheme != "file") {
		return "", apperrors.New(apperrors.KindValidation, fmt.Sprintf("target host is invalid: %q", target.Host), err)
	}

	if credentials.Token != "" && (parsed.Scheme == "http" || parsed.Scheme == "https") {
		username := credentials.Username
		if username == "" {
			username = "oauth2"
		}
		parsed.User = url.UserPassword(username, credentials.Token)
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/" + target.Namespace + "/" + target.Name + ".git"

	return parsed.String(), nil
}

func validateTarget(target Target) error {
	if !pathSafeName(target.Name) {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("repository name is not usable as a directory name: %q", target.Name), nil)
	}

	if strings.TrimSpace(target.Namespace) == "" {
		return apperrors.New(apperrors.KindValidation, "target namespace is required", nil)
	}

	if strings.TrimSpace(target.Branch) == "" {
		return apperrors.New(apperrors.KindValidation, "target branch is required", nil)
	}

	if strings.TrimSpace(target.FallbackBranch) == "" {
		return apperrors.New(apperrors.KindValidation, "target fallback branch is required", nil)
	}

	return nil
}

func pathSafeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	return !strings.ContainsAny(name, "/\\")
}
