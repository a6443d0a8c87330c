// Package cli implements the ops command-line client: a thin wrapper over
// the daemon's RPC surface. Exit code 0 means success, 1 a local error,
// anything else the CommandStatus numeric code.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rockit-astro/opsd/internal/api"
	"github.com/rockit-astro/opsd/internal/models"
)

var daemonURL string

var rootCmd = &cobra.Command{
	Use:           "ops",
	Short:         "Control the observatory operations daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultURL := os.Getenv("OPSD_URL")
	if defaultURL == "" {
		defaultURL = "http://127.0.0.1:9700"
	}
	rootCmd.PersistentFlags().StringVar(&daemonURL, "daemon", defaultURL, "operations daemon URL")
}

func client() *api.Client { return api.NewClient(daemonURL) }

// exitWith prints the command outcome and terminates with its code.
func exitWith(res models.CommandResult) {
	if res.Code == models.Succeeded {
		fmt.Println(res.Message)
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, res.Message)
	for _, e := range res.Errors {
		fmt.Fprintln(os.Stderr, "  -", e)
	}
	os.Exit(int(res.Code) & 0xff)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fatal(err)
	}
}
