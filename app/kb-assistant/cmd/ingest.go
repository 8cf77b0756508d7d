package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cchalm/kb-assistant/internal/kb"
	"github.com/cchalm/kb-assistant/internal/terminal"
)

var ingestOptions struct {
	title string
	tags  []string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <url-or-path>...",
	Short: "Add web pages, GitHub content or local files to the knowledge base",
	Long: `Fetches each location, extracts its text and stores it in the knowledge base.
Locations may be http(s) URLs, GitHub repository, file or issue URLs, or local file paths.
Locations that are already in the knowledge base are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOptions.title, "title", "", "Title to use instead of the extracted one (single location only)")
	ingestCmd.Flags().StringSliceVar(&ingestOptions.tags, "tag", nil, "Tag to attach to the ingested sources (repeatable)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestOptions.title != "" && len(args) > 1 {
		return fmt.Errorf("--title can only be used with a single location")
	}

	ctx := setupContext()
	env, err := newAppEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	out := cmd.OutOrStdout()
	formatter := terminal.ForFile(stdoutFile(cmd))
	failed := 0
	for _, location := range args {
		result, err := env.store.IngestURL(ctx, location, kb.IngestOptions{Title: ingestOptions.title, Tags: ingestOptions.tags})
		switch {
		case err != nil:
			failed++
			fmt.Fprintln(out, formatter.Error(fmt.Sprintf("%s: %v", location, err)))
		case result.Success:
			fmt.Fprintln(out, formatter.Notice(fmt.Sprintf("%s: added as %s (%d chunks)", location, result.SourceID, result.ChunksCount)))
		case result.ExistingSourceID != "":
			fmt.Fprintln(out, formatter.Muted(fmt.Sprintf("%s: already present as %s", location, result.ExistingSourceID)))
		default:
			failed++
			fmt.Fprintln(out, formatter.Error(fmt.Sprintf("%s: %s", location, result.Error)))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d locations could not be ingested", failed, len(args))
	}
	return nil
}
