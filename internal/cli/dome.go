package cli

import (
	"time"

	"github.com/spf13/cobra"
)

var domeCmd = &cobra.Command{
	Use:       "dome (open|close|auto|manual)",
	Short:     "Control the dome",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"open", "close", "auto", "manual"},
	Run: func(cmd *cobra.Command, args []string) {
		c := client()
		switch args[0] {
		case "open":
			// Zero times ask the daemon for now until the end of darkness.
			exitWith(c.SetDomeWindow(time.Time{}, time.Time{}))
		case "close":
			exitWith(c.ClearDomeWindow())
		case "auto":
			exitWith(c.DomeControl(true))
		case "manual":
			exitWith(c.DomeControl(false))
		default:
			cmd.PrintErrf("unknown dome command %q\n", args[0])
			exitLocalError()
		}
	},
}

func init() {
	rootCmd.AddCommand(domeCmd)
}
