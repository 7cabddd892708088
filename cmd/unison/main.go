// Command unison generates entity structs and mapping registries from
// YAML mapping documents.
package main

import (
	"os"

	"github.com/syssam/unison/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
