package main

import (
	"fmt"
	"os"

	"trainer-perf/cmd/trainer-perf/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
