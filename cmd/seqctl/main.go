package main

import (
	"os"

	"github.com/ignite/investor-outreach/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
