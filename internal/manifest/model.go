package manifest

// Manifest is the repos.yaml file: the set of auxiliary repositories one
// sync run keeps available in the workspace.
type Manifest struct {
	Version   int      `yaml:"version"`
	Workspace string   `yaml:"workspace,omitempty"`
	Defaults  Defaults `yaml:"defaults,omitempty"`
	Repos     []Repo   `yaml:"repos"`
}

// Defaults apply to every repo unless overridden at the repo level.
type Defaults struct {
	Host              string `yaml:"host,omitempty"`
	Namespace         string `yaml:"namespace,omitempty"`
	FallbackBranch    string `yaml:"fallback_branch,omitempty"`
	RetryCount        *int   `yaml:"retry_count,omitempty"`
	RetryDelaySeconds *int   `yaml:"retry_delay_seconds,omitempty"`
}

// Repo is a single repository entry. An empty branch means "the branch the
// CI run is for", resolved by the caller.
type Repo struct {
	Name              string `yaml:"name"`
	Host              string `yaml:"host,omitempty"`
	Namespace         string `yaml:"namespace,omitempty"`
	Branch            string `yaml:"branch,omitempty"`
	FallbackBranch    string `yaml:"fallback_branch,omitempty"`
	RetryCount        *int   `yaml:"retry_count,omitempty"`
	RetryDelaySeconds *int   `yaml:"retry_delay_seconds,omitempty"`
}

func (r *Repo) EffectiveHost(d Defaults) string {
	if r.Host != "" {
		return r.Host
	}
	return d.Host
}

func (r *Repo) EffectiveNamespace(d Defaults) string {
	if r.Namespace != "" {
		return r.Namespace
	}
	return d.Namespace
}

func (r *Repo) EffectiveFallbackBranch(d Defaults) string {
	if r.FallbackBranch != "" {
		return r.FallbackBranch
	}
	return d.FallbackBranch
}

// EffectiveRetryCount returns the retry count for this repo, or nil when
// neither the repo nor the defaults set one.
func (r *Repo) EffectiveRetryCount(d Defaults) *int {
	if r.RetryCount != nil {
		return r.RetryCount
	}
	return d.RetryCount
}

func (r *Repo) EffectiveRetryDelaySeconds(d Defaults) *int {
	if r.RetryDelaySeconds != nil {
		return r.RetryDelaySeconds
	}
	return d.RetryDelaySeconds
}
