package main

import (
	"fmt"
	"os"

	"github.com/keelpm/keel/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "keel: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
