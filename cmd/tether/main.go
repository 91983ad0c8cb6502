package main

import (
	"fmt"
	"os"

	"github.com/roach88/tether/internal/cli"
)

// placeholder value, replaced on build
var version = "dev"

func main() {
	cmd := cli.NewRootCommand()
	cmd.Version = version
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tether:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
