package main

import (
	"os"

	"pfp/cmd/pfp/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
