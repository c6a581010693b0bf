package main

import (
	"os"

	"github.com/docgrep/docgrep/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
