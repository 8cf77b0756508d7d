package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cchalm/kb-assistant/internal/config"
)

var cfg = config.Default()

// Flags that override loaded configuration when set
var flags struct {
	configPath    string
	verbose       bool
	model         string
	dataDir       string
	maxToolRounds int
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", config.DefaultPath(), "Path to a TOML config file")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Write debug entries to the log file")
	pf.StringVar(&flags.model, "model", "", "Model to use (overrides KB_MODEL)")
	pf.StringVar(&flags.dataDir, "data-dir", "", "Directory for the knowledge base, logs and input history (overrides KB_DATA_DIR)")
	pf.IntVar(&flags.maxToolRounds, "max-tool-rounds", 0, "Maximum tool rounds per question (overrides KB_MAX_TOOL_ROUNDS)")
}

func loadRootConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	if f.Changed("verbose") {
		loaded.Verbose = flags.verbose
	}
	if f.Changed("model") {
		loaded.Model = flags.model
	}
	if f.Changed("data-dir") {
		loaded.DataDir = flags.dataDir
	}
	if f.Changed("max-tool-rounds") {
		loaded.MaxToolRounds = flags.maxToolRounds
	}

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = loaded
	return nil
}
