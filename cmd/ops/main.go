// ops is the thin command-line client for the operations daemon.
package main

import "github.com/rockit-astro/opsd/internal/cli"

func main() {
	cli.Execute()
}
