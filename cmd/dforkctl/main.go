// Command dforkctl is a small debugging CLI around the dfork library: it
// spawns one command tree, logs every event it sees when --verbose is
// given, and reports the final status.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type cmdGlobal struct {
	cmd *cobra.Command

	flagVerbose bool
	flagSignal  string
}

func main() {
	globalCmd := cmdGlobal{}

	app := &cobra.Command{}
	app.Use = "dforkctl"
	app.Short = "Spawn and supervise a command tree via dfork"
	app.SilenceUsage = true
	app.SilenceErrors = true
	app.PersistentFlags().BoolVarP(&globalCmd.flagVerbose, "verbose", "v", false, "Log every event, not just the final one")
	app.PersistentFlags().StringVarP(&globalCmd.flagSignal, "signal", "s", "", "Signal to forward to the command in place of whatever dforkctl itself receives (e.g. TERM, INT, HUP, KILL)")

	runCmd := cmdRun{global: &globalCmd}
	app.AddCommand(runCmd.command())

	globalCmd.cmd = app

	if err := app.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
