// Package main is the entry point for the vgctl CLI binary.
package main

import (
	"os"

	cli "vectorgate/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
