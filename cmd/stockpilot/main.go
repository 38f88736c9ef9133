package main

import (
	"os"

	"stockpilot/cmd/stockpilot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
