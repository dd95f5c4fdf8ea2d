// Package cmd implements the mdarun command tree.
package cmd

import (
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	// Version information, overridable via -ldflags at build time.
	Version string = "dev"
	Commit  string = "none"

	// OsExit allows tests to intercept process exit.
	OsExit = os.Exit
)

func init() {
	bi, ok := debug.ReadBuildInfo()
	if !ok || Version != "dev" {
		return
	}
	if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		Version = bi.Main.Version
	}
	for _, setting := range bi.Settings {
		if setting.Key == "vcs.revision" {
			Commit = setting.Value
			break
		}
	}
}

// NewRootCommand builds the mdarun root command, with run/serve/schedule
// wired in as subcommands.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mdarun",
		Short: "mdarun drives a synthetic acquisition run for policy smoke-testing",
		Long: `mdarun wires a demo acquisition engine, a JSON-lines event source, and
file or stdout consumers to the mdarunner Runner, so operators can exercise
a RunPolicy's backpressure and error-handling behavior from the shell
without real instrumentation attached.`,
		Version: Version,
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newScheduleCommand())
	return root
}
