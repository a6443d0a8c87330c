package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rockit-astro/opsd/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a summary of the observatory state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		p, err := client().Status()
		if err != nil {
			fatal(err)
		}
		printStatus(p)
	},
}

var jsonCmd = &cobra.Command{
	Use:   "json",
	Short: "Print the raw status document",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := client().StatusJSON()
		if err != nil {
			fatal(err)
		}
		fmt.Print(string(raw))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, jsonCmd)
}

func printStatus(p models.StatusPayload) {
	safety := "SAFE"
	if !p.Environment.Safe {
		safety = "UNSAFE"
	}
	fmt.Printf("Environment: %s (updated %s)\n", safety, formatTime(p.Environment.Updated))
	for label, sensors := range p.Environment.Conditions {
		fmt.Printf("  %s:\n", label)
		for _, s := range sensors {
			flags := ""
			if s.Unsafe {
				flags += " UNSAFE"
			}
			if s.Stale {
				flags += " STALE"
			}
			fmt.Printf("    %-20s %g%s\n", s.Label, s.Value, flags)
		}
	}
	if p.Dome != nil {
		fmt.Printf("Dome: %s (mode %s", p.Dome.Status, p.Dome.Mode)
		if p.Dome.RequestedMode != p.Dome.Mode {
			fmt.Printf(", requested %s", p.Dome.RequestedMode)
		}
		fmt.Println(")")
		if p.Dome.RequestedOpenDate != nil && p.Dome.RequestedCloseDate != nil {
			fmt.Printf("  Window: %s to %s\n",
				formatTime(*p.Dome.RequestedOpenDate), formatTime(*p.Dome.RequestedCloseDate))
		}
	}
	if p.Telescope != nil {
		fmt.Printf("Telescope: mode %s\n", p.Telescope.Mode)
		for _, a := range p.Telescope.Schedule {
			fmt.Printf("  [%s] %s\n", a.State, a.Name)
		}
	}
	if p.ConfigStale {
		fmt.Println("Note: configuration changed on disk; restart to apply")
	}
}

func formatTime(t models.UTCTime) string {
	return t.Time().UTC().Format(time.RFC3339)
}
