package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set by goreleaser via ldflags
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "isomoira",
	Short: "Autonomous test-driven-development orchestrator for local LLMs",
	Long: `isomoira drives local model endpoints through a
summarise -> plan -> implement -> test -> review convergence loop until a
generated test suite passes, bounded by stall detection and a
domain-knowledge escalation path.

Core Commands:
  isomoira init <dir>   Scaffold a new project (philosophy.md, task.md, workspace/)
  isomoira run          Run the convergence loop against an existing project
  isomoira              Alias for 'run' (same flags; --project defaults to the current directory)`,
	Version: Version,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("isomoira version %s\n", Version))
}
