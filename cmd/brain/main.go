package main

import (
	"fmt"
	"os"

	"scanbrain/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "brain: %v\n", err)
		os.Exit(1)
	}
}
