package main

import (
	"os"

	"github.com/dragon-marcel/mat-gwiazda/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
