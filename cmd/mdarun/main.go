// Command mdarun smoke-tests an mdarunner RunPolicy from the shell using a
// synthetic engine and event stream, without real acquisition hardware.
package main

import (
	"fmt"
	"os"

	"github.com/pymmcore-plus/mdarunner/cmd/mdarun/cmd"
)

func main() {
	root := cmd.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cmd.OsExit(1)
	}
}
