package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var scriptCmd = &cobra.Command{
	Use:   "script <name> [args...]",
	Short: "Run a named site script",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitWith(client().RunScript(args[0], args[1:]))
	},
}

func init() {
	rootCmd.AddCommand(scriptCmd)
}

func exitLocalError() { os.Exit(1) }
