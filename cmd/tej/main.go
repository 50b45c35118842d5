// Package main is the entry point for the tej binary: a client that submits
// and manages remote jobs over SSH (§6.1).
package main

import (
	"fmt"
	"os"

	"github.com/vistrails/tej/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	err := cmd.Execute()
	if err != nil && err.Error() != "" {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cli.ExitCode(err))
}
