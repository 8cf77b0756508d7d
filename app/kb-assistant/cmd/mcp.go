package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cchalm/kb-assistant/internal/mcpserver"
	"github.com/cchalm/kb-assistant/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the knowledge base tools over MCP on stdio",
	Long: `Runs a Model Context Protocol server on stdin/stdout that exposes the knowledge base
tools (search, add, ingest, list, delete, get_source_chunks) to other MCP clients.
Logs go to the log file in the data directory.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx := setupContext()
	env, err := newAppEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	kbServer, err := tools.NewKnowledgeServer(env.store, env.logger, env.tracer)
	if err != nil {
		return fmt.Errorf("failed to create knowledge base tools: %w", err)
	}

	env.logger.Info("serving MCP on stdio")
	return mcpserver.NewServer(kbServer, versionInfo.Version, env.logger).Run(ctx)
}
