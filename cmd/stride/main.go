// Command stride is the Stride task runner CLI.
package main

import (
	"os"

	"github.com/stride-run/stride/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
