package cli

import (
	"github.com/spf13/cobra"
)

var telCmd = &cobra.Command{
	Use:       "tel (auto|manual|stop)",
	Short:     "Control the telescope",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"auto", "manual", "stop"},
	Run: func(cmd *cobra.Command, args []string) {
		c := client()
		switch args[0] {
		case "auto":
			exitWith(c.TelControl(true))
		case "manual":
			exitWith(c.TelControl(false))
		case "stop":
			exitWith(c.StopTelescope())
		default:
			cmd.PrintErrf("unknown tel command %q\n", args[0])
			exitLocalError()
		}
	},
}

func init() {
	rootCmd.AddCommand(telCmd)
}
