package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daydemir/isomoira/internal/workspace"
)

var initCmd = &cobra.Command{
	Use:   "init <dir>",
	Short: "Scaffold a new isomoira project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		if err := workspace.Init(dir); err != nil {
			return err
		}
		fmt.Printf("Initialized isomoira project in %s\n\n", dir)
		fmt.Println("Next steps:")
		fmt.Printf("  1. Edit %s/philosophy.md with your engineering principles\n", dir)
		fmt.Printf("  2. Edit %s/task.md with the task to execute\n", dir)
		fmt.Printf("  3. Run 'isomoira run --project %s'\n", dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
