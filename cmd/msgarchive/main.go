// Command msgarchive inspects and maintains a chat message archive.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/msgarchive/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
