package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pipetools/cisync/internal/config"
	apperrors "github.com/pipetools/cisync/internal/domain/errors"
	"github.com/pipetools/cisync/internal/manifest"
	"github.com/pipetools/cisync/internal/services/fetch"
	statusservice "github.com/pipetools/cisync/internal/services/status"
	"github.com/pipetools/cisync/internal/ui"
)

func newStatusCommand(options *rootOptions) *cobra.Command {
	var manifestPath string
	var workspace string

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show cached working copies and their branch markers",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyEnvFlagDefaults(cmd.Flags())

			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			parsed, err := manifest.Load(firstNonEmpty(manifestPath, cfg.ManifestPath))
			if err != nil {
				return err
			}

			service := statusservice.NewService(firstNonEmpty(workspace, parsed.Workspace, cfg.Workspace))
			entries, err := service.List(parsed)
			if err != nil {
				return err
			}

			if options.JSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			styler := ui.NewStyler(cmd.OutOrStdout())
			table := ui.NewTable(cmd.OutOrStdout(), "REPOSITORY", "BRANCH", "MARKER", "STATE")
			for _, entry := range entries {
				table.Row(entry.Name, orDash(entry.Branch), orDash(entry.MarkerBranch), stateLabel(styler, entry.State))
			}

			return table.Flush()
		},
	}

	statusCmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to the repository manifest (defaults to repos.yaml)")
	statusCmd.Flags().StringVar(&workspace, "workspace", "", "Directory holding the working copies")

	return statusCmd
}

func newCacheCommand(options *rootOptions) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Workspace cache commands",
	}

	var manifestPath string
	var workspace string
	var clearAll bool
	clearCmd := &cobra.Command{
		Use:   "clear [name...]",
		Short: "Remove cached working copies and their branch markers",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyEnvFlagDefaults(cmd.Flags())

			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			names := args
			workspaceDir := firstNonEmpty(workspace, cfg.Workspace)
			if clearAll {
				parsed, err := manifest.Load(firstNonEmpty(manifestPath, cfg.ManifestPath))
				if err != nil {
					return err
				}

				workspaceDir = firstNonEmpty(workspace, parsed.Workspace, cfg.Workspace)
				names = nil
				for _, repo := range parsed.Repos {
					names = append(names, repo.Name)
				}
			}

			if len(names) == 0 {
				return apperrors.New(apperrors.KindValidation, "name a repository to clear, or pass --all", nil)
			}

			markers := fetch.NewMarkerStore(workspaceDir)
			for _, name := range names {
				if err := os.RemoveAll(filepath.Join(workspaceDir, name)); err != nil {
					return apperrors.New(apperrors.KindInternal, fmt.Sprintf("removing working copy %s failed", name), err)
				}
				if err := markers.Delete(name); err != nil {
					return apperrors.New(apperrors.KindInternal, fmt.Sprintf("removing branch marker for %s failed", name), err)
				}
			}

			if options.JSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"removed": names})
			}

			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", name)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&clearAll, "all", false, "Clear every manifest repository")
	clearCmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to the repository manifest (defaults to repos.yaml)")
	clearCmd.Flags().StringVar(&workspace, "workspace", "", "Directory holding the working copies")
	cacheCmd.AddCommand(clearCmd)

	return cacheCmd
}

func stateLabel(styler *ui.Styler, state statusservice.State) string {
	switch state {
	case statusservice.StateSynced:
		return styler.Ok(string(state))
	case statusservice.StateUnverified, statusservice.StateOrphaned:
		return styler.Degraded(string(state))
	default:
		return string(state)
	}
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}

	return value
}
