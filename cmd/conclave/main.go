package main

import (
	"os"

	"github.com/conclavehq/conclave/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
