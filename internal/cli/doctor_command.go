package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pipetools/cisync/internal/config"
	apperrors "github.com/pipetools/cisync/internal/domain/errors"
	"github.com/pipetools/cisync/internal/manifest"
	"github.com/pipetools/cisync/internal/transport/httpclient"
	"github.com/pipetools/cisync/internal/ui"
)

type doctorCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

func newDoctorCommand(options *rootOptions) *cobra.Command {
	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the environment can run a sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			checks := []doctorCheck{
				checkGitBackend(cmd, cfg),
				checkWorkspace(cfg),
				checkHost(cmd, cfg),
				checkManifest(cfg),
			}

			if options.JSON {
				if err := writeJSON(cmd.OutOrStdout(), checks); err != nil {
					return err
				}
			} else {
				styler := ui.NewStyler(cmd.OutOrStdout())
				for _, check := range checks {
					fmt.Fprintln(cmd.OutOrStdout(), styler.Header(check.Name))
					if check.OK {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", styler.Ok("ok"), check.Detail)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", styler.Failed("failed"), check.Detail)
					}
				}
			}

			failed := 0
			for _, check := range checks {
				if !check.OK {
					failed++
				}
			}
			if failed > 0 {
				return apperrors.New(apperrors.KindPermanent, fmt.Sprintf("%d of %d checks failed", failed, len(checks)), nil)
			}

			return nil
		},
	}

	return doctorCmd
}

func checkGitBackend(cmd *cobra.Command, cfg config.AppConfig) doctorCheck {
	check := doctorCheck{Name: "git backend"}

	backend, err := newGitBackend(cfg.GitBackend)
	if err != nil {
		check.Detail = err.Error()
		return check
	}

	version, err := backend.Version(cmd.Context())
	if err != nil {
		check.Detail = fmt.Sprintf("%s unavailable: %v", cfg.GitBackend, err)
		return check
	}

	check.OK = true
	check.Detail = version
	return check
}

func checkWorkspace(cfg config.AppConfig) doctorCheck {
	check := doctorCheck{Name: "workspace"}

	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		check.Detail = fmt.Sprintf("cannot create %s: %v", cfg.Workspace, err)
		return check
	}

	probe, err := os.CreateTemp(cfg.Workspace, ".doctor-*")
	if err != nil {
		check.Detail = fmt.Sprintf("%s is not writable: %v", cfg.Workspace, err)
		return check
	}
	probe.Close()
	_ = os.Remove(probe.Name())

	check.OK = true
	check.Detail = fmt.Sprintf("%s is writable", cfg.Workspace)
	return check
}

func checkHost(cmd *cobra.Command, cfg config.AppConfig) doctorCheck {
	check := doctorCheck{Name: "ci host"}

	if cfg.HostURL == "" {
		check.OK = true
		check.Detail = "not configured, skipped"
		return check
	}

	client := httpclient.NewFromConfig(cfg)
	health, err := client.Health(cmd.Context())
	if err != nil {
		check.Detail = err.Error()
		return check
	}

	check.OK = true
	if health.Authenticated {
		check.Detail = fmt.Sprintf("%s reachable (status=%d, auth=ok)", cfg.HostURL, health.StatusCode)
	} else {
		check.Detail = fmt.Sprintf("%s reachable (status=%d, auth=limited)", cfg.HostURL, health.StatusCode)
	}
	return check
}

func checkManifest(cfg config.AppConfig) doctorCheck {
	check := doctorCheck{Name: "manifest"}

	parsed, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		check.Detail = err.Error()
		return check
	}

	check.OK = true
	check.Detail = fmt.Sprintf("%s (%d repositories)", cfg.ManifestPath, len(parsed.Repos))
	return check
}
