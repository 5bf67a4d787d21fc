package main

import (
	"os"

	"github.com/keepstack/keeper/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
