package main

import (
	"fmt"
	"os"

	"github.com/the-radar/deliberate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "deliberate: %v\n", err)
		os.Exit(1)
	}
}
