// Package main is the entry point for the bqflow binary.
package main

import (
	"os"

	"bqflow/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
