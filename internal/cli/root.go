package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/pipetools/cisync/internal/config"
	apperrors "github.com/pipetools/cisync/internal/domain/errors"
	"github.com/pipetools/cisync/internal/git"
	"github.com/pipetools/cisync/internal/git/execgit"
	"github.com/pipetools/cisync/internal/git/gogit"
)

func NewRootCommand() *cobra.Command {
	options := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "cisync",
		Short:         "Cache-aware repository sync and pipeline triggering for CI jobs",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().BoolVar(&options.JSON, "json", false, "Output as JSON")

	rootCmd.AddCommand(newSyncCommand(options))
	rootCmd.AddCommand(newTriggerCommand(options))
	rootCmd.AddCommand(newStatusCommand(options))
	rootCmd.AddCommand(newCacheCommand(options))
	rootCmd.AddCommand(newAuthCommand(options))
	rootCmd.AddCommand(newDoctorCommand(options))
	rootCmd.AddCommand(newMCPCommand(options))

	return rootCmd
}

type rootOptions struct {
	JSON bool
}

func newAuthCommand(options *rootOptions) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
	}

	var statusHost string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show configured CI host and credential source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(statusHost) != "" {
				if err := os.Setenv("CISYNC_HOST", statusHost); err != nil {
					return apperrors.New(apperrors.KindInternal, "failed to set host override", err)
				}
			}

			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			if options.JSON {
				payload := map[string]string{
					"host":        cfg.HostURL,
					"auth_mode":   cfg.AuthMode(),
					"auth_source": cfg.AuthSource,
					"git_backend": cfg.GitBackend,
				}
				return writeJSON(cmd.OutOrStdout(), payload)
			}

			host := cfg.HostURL
			if host == "" {
				host = "(not configured)"
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Target CI host: %s (auth=%s, source=%s)\n", host, cfg.AuthMode(), cfg.AuthSource)
			return nil
		},
	}
	statusCmd.Flags().StringVar(&statusHost, "host", "", "Override host for this status check")
	authCmd.AddCommand(statusCmd)

	var loginHost string
	var loginUsername string
	var loginToken string
	var loginTriggerToken string
	var loginSetDefault bool
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Store credentials for a CI host",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolvedHost := strings.TrimSpace(loginHost)
			if resolvedHost == "" {
				cfg, err := config.LoadFromEnv()
				if err != nil {
					return err
				}
				resolvedHost = cfg.HostURL
			}

			if strings.TrimSpace(loginToken) == "" && strings.TrimSpace(loginTriggerToken) == "" {
				prompted, err := promptForSecret(cmd, "Access token: ")
				if err != nil {
					return err
				}
				loginToken = prompted
			}

			result, err := config.SaveLogin(config.LoginInput{
				Host:         resolvedHost,
				Username:     loginUsername,
				Token:        loginToken,
				TriggerToken: loginTriggerToken,
				SetDefault:   loginSetDefault,
			})
			if err != nil {
				return err
			}

			if options.JSON {
				payload := map[string]any{
					"host":                  result.Host,
					"username":              result.Username,
					"used_insecure_storage": result.UsedInsecureStorage,
				}
				return writeJSON(cmd.OutOrStdout(), payload)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Stored credentials for %s\n", result.Host)
			if result.UsedInsecureStorage {
				fmt.Fprintln(cmd.OutOrStdout(), "Warning: keyring unavailable, credentials stored in config fallback")
			}
			return nil
		},
	}
	loginCmd.Flags().StringVar(&loginHost, "host", "", "CI host URL")
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "Username used in authenticated clone URLs")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "API access token")
	loginCmd.Flags().StringVar(&loginTriggerToken, "trigger-token", "", "Pipeline trigger token")
	loginCmd.Flags().BoolVar(&loginSetDefault, "set-default", true, "Set host as default target")
	authCmd.AddCommand(loginCmd)

	var logoutHost string
	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials for a CI host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Logout(logoutHost); err != nil {
				return err
			}

			if options.JSON {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "ok"})
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Stored credentials removed")
			return nil
		},
	}
	logoutCmd.Flags().StringVar(&logoutHost, "host", "", "CI host URL (defaults to stored default host)")
	authCmd.AddCommand(logoutCmd)

	return authCmd
}

func promptForSecret(cmd *cobra.Command, prompt string) (string, error) {
	stdin, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(stdin.Fd())) {
		return "", apperrors.New(apperrors.KindValidation, "a token is required (pass --token or --trigger-token, or run on a terminal)", nil)
	}

	fmt.Fprint(cmd.OutOrStdout(), prompt)
	secret, err := term.ReadPassword(int(stdin.Fd()))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", apperrors.New(apperrors.KindInternal, "reading token from terminal failed", err)
	}

	return strings.TrimSpace(string(secret)), nil
}

// applyEnvFlagDefaults fills unset flags from CISYNC_* environment variables,
// so `--retry-count 5` and `CISYNC_RETRY_COUNT=5` behave the same. Flags set
// on the command line win.
func applyEnvFlagDefaults(flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Changed {
			return
		}

		envName := "CISYNC_" + strings.ToUpper(strings.ReplaceAll(flag.Name, "-", "_"))
		if value := strings.TrimSpace(os.Getenv(envName)); value != "" {
			_ = flags.Set(flag.Name, value)
		}
	})
}

func newGitBackend(name string) (git.Backend, error) {
	switch name {
	case config.BackendExecGit, "":
		return execgit.New(), nil
	case config.BackendGoGit:
		return gogit.New(), nil
	default:
		return nil, apperrors.New(
			apperrors.KindValidation,
			fmt.Sprintf("unknown git backend %q (choose %s or %s)", name, config.BackendExecGit, config.BackendGoGit),
			nil,
		)
	}
}

func writeJSON(writer io.Writer, payload any) error {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "failed to encode JSON output", err)
	}

	fmt.Fprintln(writer, string(encoded))
	return nil
}
