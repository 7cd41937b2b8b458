package git

import "context"

type CloneOptions struct {
	Directory    string
	Branch       string
	Depth        int
	SingleBranch bool
}

type FetchOptions struct {
	Remote string
	Prune  bool
}

// Backend is the version-control capability surface the fetcher runs on.
// Implementations answer remote branch-existence queries without transferring
// data, clone shallow single-branch copies, and refresh existing copies.
type Backend interface {
	Version(ctx context.Context) (string, error)
	BranchExists(ctx context.Context, remoteURL string, branch string) (bool, error)
	Clone(ctx context.Context, remoteURL string, options CloneOptions) error
	Fetch(ctx context.Context, repositoryDirectory string, options FetchOptions) error
	SetRemoteURL(ctx context.Context, repositoryDirectory string, remote string, remoteURL string) error
}
