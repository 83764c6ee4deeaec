package main

import (
	"os"

	"github.com/use-agent/xsign/cmd/xsignctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
