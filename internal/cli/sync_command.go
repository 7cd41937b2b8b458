package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipetools/cisync/internal/config"
	"github.com/pipetools/cisync/internal/manifest"
	"github.com/pipetools/cisync/internal/services/fetch"
	"github.com/pipetools/cisync/internal/ui"
)

func newSyncCommand(options *rootOptions) *cobra.Command {
	var manifestPath string
	var repoNames []string
	var adhocName string
	var adhocNamespace string
	var host string
	var branch string
	var fallbackBranch string
	var retryCount int
	var retryDelay time.Duration
	var workspace string
	var backendName string

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Make every configured repository available on the right branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyEnvFlagDefaults(cmd.Flags())

			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			if backendName == "" {
				backendName = cfg.GitBackend
			}
			backend, err := newGitBackend(backendName)
			if err != nil {
				return err
			}

			if adhocName != "" {
				target := fetch.Target{
					Host:           firstNonEmpty(host, cfg.HostURL),
					Namespace:      adhocNamespace,
					Name:           adhocName,
					Branch:         firstNonEmpty(branch, cfg.Branch),
					FallbackBranch: firstNonEmpty(fallbackBranch, cfg.FallbackBranch),
				}

				policy := fetch.Policy{RetryCount: cfg.RetryCount, RetryDelay: cfg.RetryDelay}
				if cmd.Flags().Changed("retry-count") {
					policy.RetryCount = retryCount
				}
				if cmd.Flags().Changed("retry-delay") {
					policy.RetryDelay = retryDelay
				}

				service := fetch.NewService(backend, firstNonEmpty(workspace, cfg.Workspace))
				result, err := service.Ensure(cmd.Context(), target, fetch.Credentials{Username: cfg.Username, Token: cfg.Token}, policy)
				if err != nil {
					return err
				}

				if options.JSON {
					return writeJSON(cmd.OutOrStdout(), result)
				}

				printSyncResult(cmd, result)
				return nil
			}

			parsed, err := manifest.Load(firstNonEmpty(manifestPath, cfg.ManifestPath))
			if err != nil {
				return err
			}

			repos := parsed.Repos
			if len(repoNames) > 0 {
				repos, err = manifest.FilterByNames(parsed.Repos, repoNames)
				if err != nil {
					return err
				}
			}

			service := fetch.NewService(backend, firstNonEmpty(workspace, parsed.Workspace, cfg.Workspace))
			credentials := fetch.Credentials{Username: cfg.Username, Token: cfg.Token}

			results := make([]fetch.Result, 0, len(repos))
			for _, repo := range repos {
				target := fetch.Target{
					Host:           firstNonEmpty(host, repo.EffectiveHost(parsed.Defaults), cfg.HostURL),
					Namespace:      repo.EffectiveNamespace(parsed.Defaults),
					Name:           repo.Name,
					Branch:         firstNonEmpty(branch, repo.Branch, cfg.Branch),
					FallbackBranch: firstNonEmpty(fallbackBranch, repo.EffectiveFallbackBranch(parsed.Defaults), cfg.FallbackBranch),
				}

				policy := fetch.Policy{RetryCount: cfg.RetryCount, RetryDelay: cfg.RetryDelay}
				if repoRetryCount := repo.EffectiveRetryCount(parsed.Defaults); repoRetryCount != nil {
					policy.RetryCount = *repoRetryCount
				}
				if repoRetryDelay := repo.EffectiveRetryDelaySeconds(parsed.Defaults); repoRetryDelay != nil {
					policy.RetryDelay = time.Duration(*repoRetryDelay) * time.Second
				}
				if cmd.Flags().Changed("retry-count") {
					policy.RetryCount = retryCount
				}
				if cmd.Flags().Changed("retry-delay") {
					policy.RetryDelay = retryDelay
				}

				// A repository the job cannot use must stop the run; later
				// entries are not attempted once one is unusable.
				result, err := service.Ensure(cmd.Context(), target, credentials, policy)
				if err != nil {
					return fmt.Errorf("sync %s: %w", repo.Name, err)
				}

				results = append(results, result)
				if !options.JSON {
					printSyncResult(cmd, result)
				}
			}

			if options.JSON {
				return writeJSON(cmd.OutOrStdout(), results)
			}

			return nil
		},
	}

	syncCmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to the repository manifest (defaults to repos.yaml)")
	syncCmd.Flags().StringSliceVar(&repoNames, "repo", nil, "Sync only the named manifest repositories")
	syncCmd.Flags().StringVar(&adhocName, "name", "", "Sync a single repository by name, without a manifest")
	syncCmd.Flags().StringVar(&adhocNamespace, "namespace", "", "Namespace for --name")
	syncCmd.Flags().StringVar(&host, "host", "", "CI host serving the repositories")
	syncCmd.Flags().StringVar(&branch, "branch", "", "Branch to make available (defaults to the CI branch)")
	syncCmd.Flags().StringVar(&fallbackBranch, "fallback-branch", "", "Branch to fall back to when the desired one is missing")
	syncCmd.Flags().IntVar(&retryCount, "retry-count", fetch.DefaultRetryCount, "Clone attempts per branch")
	syncCmd.Flags().DurationVar(&retryDelay, "retry-delay", fetch.DefaultRetryDelay, "Delay between clone attempts")
	syncCmd.Flags().StringVar(&workspace, "workspace", "", "Directory holding the working copies")
	syncCmd.Flags().StringVar(&backendName, "backend", "", "Git backend: execgit or gogit")

	return syncCmd
}

func printSyncResult(cmd *cobra.Command, result fetch.Result) {
	styler := ui.NewStyler(cmd.OutOrStdout())

	label := styler.Ok(string(result.Outcome))
	if result.Outcome == fetch.OutcomeFallback {
		label = styler.Degraded(string(result.Outcome))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s (%s)\n", result.Repository, label, result.Branch)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}

	return ""
}
