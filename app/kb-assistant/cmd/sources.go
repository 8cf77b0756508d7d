package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/cchalm/kb-assistant/internal/terminal"
)

var sourcesLimit int

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the sources in the knowledge base, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runSources,
}

var sourcesDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete sources and their chunks from the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSourcesDelete,
}

func init() {
	sourcesCmd.Flags().IntVarP(&sourcesLimit, "limit", "n", 50, "Maximum number of sources to list")
	sourcesCmd.AddCommand(sourcesDeleteCmd)
	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, _ []string) error {
	ctx := setupContext()
	env, err := newAppEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	sources, err := env.store.ListSources(ctx, sourcesLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(sources) == 0 {
		fmt.Fprintln(out, "The knowledge base is empty.")
		return nil
	}

	rows := make([][]string, 0, len(sources))
	for _, s := range sources {
		name := s.Title
		if name == "" {
			name = s.URL
		}
		rows = append(rows, []string{s.ID, s.SourceType, s.CreatedAt.Local().Format("2006-01-02 15:04"), name})
	}

	t := table.New().
		Headers("ID", "TYPE", "ADDED", "TITLE").
		Rows(rows...)
	if terminal.IsTerminal(stdoutFile(cmd)) {
		t = t.Border(lipgloss.RoundedBorder()).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return lipgloss.NewStyle().Bold(true).Padding(0, 1)
				}
				return lipgloss.NewStyle().Padding(0, 1)
			})
	} else {
		t = t.Border(lipgloss.HiddenBorder())
	}
	fmt.Fprintln(out, t.Render())
	return nil
}

func runSourcesDelete(cmd *cobra.Command, args []string) error {
	ctx := setupContext()
	env, err := newAppEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	out := cmd.OutOrStdout()
	failed := 0
	for _, id := range args {
		result, err := env.store.DeleteSource(ctx, id)
		if err != nil {
			return err
		}
		if !result.Success {
			failed++
			fmt.Fprintf(out, "%s: %s\n", id, result.Error)
			continue
		}
		fmt.Fprintf(out, "Deleted %s\n", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources could not be deleted", failed, len(args))
	}
	return nil
}

// stdoutFile returns the command's output as a file if it is one, for terminal detection
func stdoutFile(cmd *cobra.Command) *os.File {
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		return f
	}
	return os.Stdout
}
