package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cchalm/kb-assistant/internal/ai"
	"github.com/cchalm/kb-assistant/internal/repl"
	"github.com/cchalm/kb-assistant/internal/terminal"
	"github.com/cchalm/kb-assistant/internal/tools"
)

var rootCmd = &cobra.Command{
	Use:   "kb-assistant",
	Short: "Chat with an assistant that answers from your personal knowledge base",
	Long: `kb-assistant answers questions using a local knowledge base. The assistant can search the
knowledge base, add notes, ingest web pages, GitHub content and local files, and read local files.

End a line with \ to continue a question on the next line. Type "clear" to forget the
conversation so far, and "exit" or "quit" to leave.`,
	Version:           versionInfo.Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadRootConfig,
	RunE:              runREPL,
}

func Execute() error {
	return rootCmd.Execute()
}

func runREPL(cmd *cobra.Command, _ []string) error {
	if err := cfg.ValidateForChat(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := setupContext()
	env, err := newAppEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	backend, allowed, err := newToolBackend(env)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	formatter := terminal.ForFile(os.Stdout)
	opener := ai.NewAnthropicSessionOpener(createAnthropicClient(cfg.AnthropicAPIKey, env.logger), env.logger, env.tracer)
	driver := ai.NewDriver(opener, backend, allowed, formatter, out, ai.DriverConfig{
		Model:           cfg.Model,
		MaxToolRounds:   cfg.MaxToolRounds,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}, env.logger, env.tracer)

	var input repl.LineReader
	if terminal.IsTerminal(os.Stdin) && terminal.IsTerminal(os.Stdout) {
		input = repl.NewLinerReader(cfg.InputHistoryPath(), env.logger)
		fmt.Fprintln(out, formatter.Muted(fmt.Sprintf(
			"kb-assistant %s using %s. End a line with \\ to continue it; type exit to quit.", versionInfo.Version, cfg.Model)))
	} else {
		input = repl.NewScannerReader(os.Stdin)
	}
	defer func() {
		if err := input.Close(); err != nil {
			env.logger.Warn("failed to close input", zap.Error(err))
		}
	}()

	return repl.New(driver, input, out, formatter, env.logger).Run(ctx)
}

// newToolBackend combines the knowledge base tools with the read-only file tools, which resolve paths against the
// working directory
func newToolBackend(env *appEnv) (*tools.Server, []string, error) {
	kbServer, err := tools.NewKnowledgeServer(env.store, env.logger, env.tracer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create knowledge base tools: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	fileServer, err := tools.NewFileServer(wd, env.logger, env.tracer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file tools: %w", err)
	}

	backend, err := tools.Combine("assistant", env.logger, env.tracer, kbServer, fileServer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to combine tools: %w", err)
	}
	allowed := append(kbServer.Names(), fileServer.Names()...)
	env.logger.Debug("tools ready: " + strings.Join(allowed, ", "))
	return backend, allowed, nil
}
