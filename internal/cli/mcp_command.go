package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/pipetools/cisync/internal/config"
	apperrors "github.com/pipetools/cisync/internal/domain/errors"
	"github.com/pipetools/cisync/internal/services/fetch"
	"github.com/pipetools/cisync/internal/services/pipeline"
	"github.com/pipetools/cisync/internal/transport/httpclient"
)

func newMCPCommand(options *rootOptions) *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve repository sync and pipeline triggering as MCP tools on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			if err := mcpserver.ServeStdio(newMCPServer(cfg)); err != nil {
				return apperrors.New(apperrors.KindInternal, "mcp server terminated", err)
			}
			return nil
		},
	}

	return mcpCmd
}

func newMCPServer(cfg config.AppConfig) *mcpserver.MCPServer {
	server := mcpserver.NewMCPServer("cisync", "1.0.0", mcpserver.WithToolCapabilities(false))

	ensureTool := mcp.NewTool("ensure_repository",
		mcp.WithDescription("Make a repository available in the workspace on the requested branch, falling back to the fallback branch when the requested one does not exist"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithString("namespace", mcp.Required(), mcp.Description("Namespace (group) the repository lives in")),
		mcp.WithString("branch", mcp.Required(), mcp.Description("Branch to make available")),
		mcp.WithString("host", mcp.Description("CI host; defaults to the configured host")),
		mcp.WithString("fallback_branch", mcp.Description("Fallback branch; defaults to the configured one")),
	)
	server.AddTool(ensureTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		namespace, err := request.RequireString("namespace")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		branch, err := request.RequireString("branch")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		backend, err := newGitBackend(cfg.GitBackend)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		target := fetch.Target{
			Host:           request.GetString("host", cfg.HostURL),
			Namespace:      namespace,
			Name:           name,
			Branch:         branch,
			FallbackBranch: request.GetString("fallback_branch", cfg.FallbackBranch),
		}

		service := fetch.NewService(backend, cfg.Workspace)
		result, err := service.Ensure(ctx, target, fetch.Credentials{Username: cfg.Username, Token: cfg.Token}, fetch.Policy{
			RetryCount: cfg.RetryCount,
			RetryDelay: cfg.RetryDelay,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return toolResultJSON(result)
	})

	triggerTool := mcp.NewTool("trigger_pipeline",
		mcp.WithDescription("Fire a pipeline trigger webhook with ref, token and variables"),
		mcp.WithString("ref", mcp.Required(), mcp.Description("Ref to run the pipeline for")),
		mcp.WithString("project", mcp.Description("Project ID or namespace/name path on the configured host")),
		mcp.WithString("url", mcp.Description("Complete webhook URL, overrides project")),
		mcp.WithString("token", mcp.Description("Trigger token; defaults to the stored one")),
		mcp.WithObject("variables", mcp.Description("Pipeline variables as a flat string map")),
	)
	server.AddTool(triggerTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref, err := request.RequireString("ref")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		variables := map[string]string{}
		if raw, ok := request.GetArguments()["variables"].(map[string]any); ok {
			for key, value := range raw {
				variables[key] = fmt.Sprintf("%v", value)
			}
		}

		service := pipeline.NewService(httpclient.NewFromConfig(cfg))
		result, err := service.Trigger(ctx, pipeline.TriggerInput{
			URL:       request.GetString("url", ""),
			Project:   request.GetString("project", ""),
			Ref:       ref,
			Token:     request.GetString("token", cfg.TriggerToken),
			Variables: variables,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return toolResultJSON(result)
	})

	return server
}

func toolResultJSON(payload any) (*mcp.CallToolResult, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(string(encoded)), nil
}
