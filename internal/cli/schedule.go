package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rockit-astro/opsd/internal/models"
)

var (
	scheduleDomeOnly bool
	scheduleTelOnly  bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a schedule file without committing it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			fatal(err)
		}
		exitWith(client().Validate(raw))
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule [--dome] [--tel] <file>",
	Short: "Commit a schedule for tonight",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			fatal(err)
		}
		// --dome / --tel restrict which halves of the file are committed.
		if scheduleDomeOnly != scheduleTelOnly {
			var s models.Schedule
			if err := json.Unmarshal(raw, &s); err != nil {
				fatal(fmt.Errorf("parsing schedule: %w", err))
			}
			if scheduleDomeOnly {
				s.Actions = nil
			} else {
				s.Dome = nil
			}
			if raw, err = json.Marshal(s); err != nil {
				fatal(err)
			}
		}
		exitWith(client().Schedule(raw))
	},
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleDomeOnly, "dome", false, "commit only the dome window")
	scheduleCmd.Flags().BoolVar(&scheduleTelOnly, "tel", false, "commit only the actions")
	rootCmd.AddCommand(validateCmd, scheduleCmd)
}
