package main

import (
	"fmt"
	"os"

	"github.com/cchalm/kb-assistant/app/kb-assistant/cmd"
)

// Version information set by ldflags during build
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	cmd.SetVersionInfo(Version, GitCommit, BuildTime)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
