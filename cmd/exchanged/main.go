// Command exchanged runs the classroom exchange: a single process that
// loads a lesson file, drives one simulated trading session end to end,
// and (via the replay subcommand) reconstructs portfolios from a
// recorded journal for grading or audit.
package main

import (
	"os"

	"classroom-exchange/cmd/exchanged/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
