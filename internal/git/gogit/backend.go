package gogit

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"

	apperrors "github.com/pipetools/cisync/internal/domain/errors"
	"github.com/pipetools/cisync/internal/git"
)

const defaultTimeout = 60 * time.Second

// Backend implements the git capability surface in-process with go-git,
// for environments without a git binary on the PATH.
type Backend struct {
	Timeout time.Duration
}

func New() *Backend {
	return &Backend{Timeout: defaultTimeout}
}

func (backend *Backend) Version(ctx context.Context) (string, error) {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dependency := range info.Deps {
			if dependency.Path == "github.com/go-git/go-git/v5" {
				return "go-git " + dependency.Version, nil
			}
		}
	}

	return "go-git (embedded)", nil
}

func (backend *Backend) BranchExists(ctx context.Context, remoteURL string, branch string) (bool, error) {
	if strings.TrimSpace(remoteURL) == "" {
		return false, apperrors.New(apperrors.KindValidation, "repository URL cannot be empty", nil)
	}

	if strings.TrimSpace(branch) == "" {
		return false, apperrors.New(apperrors.KindValidation, "branch name cannot be empty", nil)
	}

	ctx, cancel := backend.operationContext(ctx)
	defer cancel()

	remote := gogit.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{remoteURL},
	})

	references, err := remote.ListContext(ctx, &gogit.ListOptions{})
	if err != nil {
		return false, apperrors.New(apperrors.KindPermanent, "listing remote references failed", err)
	}

	target := plumbing.NewBranchReferenceName(branch)
	for _, reference := range references {
		if reference.Name() == target {
			return true, nil
		}
	}

	return false, nil
}

func (backend *Backend) Clone(ctx context.Context, remoteURL string, options git.CloneOptions) error {
	if strings.TrimSpace(remoteURL) == "" {
		return apperrors.New(apperrors.KindValidation, "repository URL cannot be empty", nil)
	}

	if strings.TrimSpace(options.Directory) == "" {
		return apperrors.New(apperrors.KindValidation, "clone directory cannot be empty", nil)
	}

	ctx, cancel := backend.operationContext(ctx)
	defer cancel()

	cloneOptions := &gogit.CloneOptions{
		URL:          remoteURL,
		SingleBranch: options.SingleBranch,
	}
	if options.Branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(options.Branch)
	}
	if options.Depth > 0 {
		cloneOptions.Depth = options.Depth
	}

	if _, err := gogit.PlainCloneContext(ctx, options.Directory, false, cloneOptions); err != nil {
		return apperrors.New(apperrors.KindPermanent, fmt.Sprintf("clone into %s failed", options.Directory), err)
	}

	return nil
}

func (backend *Backend) Fetch(ctx context.Context, repositoryDirectory string, options git.FetchOptions) error {
	if strings.TrimSpace(repositoryDirectory) == "" {
		return apperrors.New(apperrors.KindValidation, "repository directory cannot be empty", nil)
	}

	ctx, cancel := backend.operationContext(ctx)
	defer cancel()

	repository, err := gogit.PlainOpen(repositoryDirectory)
	if err != nil {
		return apperrors.New(apperrors.KindPermanent, fmt.Sprintf("opening repository %s failed", repositoryDirectory), err)
	}

	remoteName := options.Remote
	if remoteName == "" {
		remoteName = "origin"
	}

	err = repository.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: remoteName,
		Prune:      options.Prune,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return apperrors.New(apperrors.KindPermanent, fmt.Sprintf("fetch in %s failed", repositoryDirectory), err)
	}

	return nil
}

func (backend *Backend) SetRemoteURL(ctx context.Context, repositoryDirectory string, remote string, remoteURL string) error {
	if strings.TrimSpace(repositoryDirectory) == "" {
		return apperrors.New(apperrors.KindValidation, "repository directory cannot be empty", nil)
	}

	if strings.TrimSpace(remoteURL) == "" {
		return apperrors.New(apperrors.KindValidation, "remote URL cannot be empty", nil)
	}

	if strings.TrimSpace(remote) == "" {
		remote = "origin"
	}

	repository, err := gogit.PlainOpen(repositoryDirectory)
	if err != nil {
		return apperrors.New(apperrors.KindPermanent, fmt.Sprintf("opening repository %s failed", repositoryDirectory), err)
	}

	configuration, err := repository.Config()
	if err != nil {
		return apperrors.New(apperrors.KindPermanent, "reading repository config failed", err)
	}

	remoteConfig, ok := configuration.Remotes[remote]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, fmt.Sprintf("remote %s is not configured", remote), nil)
	}

	remoteConfig.URLs = []string{remoteURL}
	if err := repository.SetConfig(configuration); err != nil {
		return apperrors.New(apperrors.KindPermanent, "writing repository config failed", err)
	}

	return nil
}

func (backend *Backend) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if backend.Timeout > 0 {
		return context.WithTimeout(ctx, backend.Timeout)
	}

	return ctx, func() {}
}
