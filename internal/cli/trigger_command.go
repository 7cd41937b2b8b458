package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pipetools/cisync/internal/config"
	apperrors "github.com/pipetools/cisync/internal/domain/errors"
	"github.com/pipetools/cisync/internal/services/pipeline"
	"github.com/pipetools/cisync/internal/transport/httpclient"
)

func newTriggerCommand(options *rootOptions) *cobra.Command {
	var webhookURL string
	var project string
	var ref string
	var token string
	var variablePairs []string

	triggerCmd := &cobra.Command{
		Use:   "trigger",
		Short: "Fire a pipeline trigger webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyEnvFlagDefaults(cmd.Flags())

			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			variables, err := parseVariablePairs(variablePairs)
			if err != nil {
				return err
			}

			client := httpclient.NewFromConfig(cfg)
			service := pipeline.NewService(client)

			result, err := service.Trigger(cmd.Context(), pipeline.TriggerInput{
				URL:       webhookURL,
				Project:   project,
				Ref:       firstNonEmpty(ref, cfg.Branch),
				Token:     firstNonEmpty(token, cfg.TriggerToken),
				Variables: variables,
			})
			if err != nil {
				return err
			}

			if options.JSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Pipeline triggered (status=%d)\n", result.StatusCode)
			if result.PipelineID != 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Pipeline #%d: %s\n", result.PipelineID, result.WebURL)
			}
			return nil
		},
	}

	triggerCmd.Flags().StringVar(&webhookURL, "url", "", "Complete webhook URL")
	triggerCmd.Flags().StringVar(&project, "project", "", "Project ID or namespace/name path on the configured host")
	triggerCmd.Flags().StringVar(&ref, "ref", "", "Ref to run the pipeline for (defaults to the CI branch)")
	triggerCmd.Flags().StringVar(&token, "token", "", "Trigger token (defaults to stored/env trigger token)")
	triggerCmd.Flags().StringArrayVar(&variablePairs, "var", nil, "Pipeline variable as KEY=VALUE (repeatable)")

	return triggerCmd
}

func parseVariablePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	variables := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("--var must be KEY=VALUE, got %q", pair), nil)
		}
		variables[strings.TrimSpace(key)] = value
	}

	return variables, nil
}
