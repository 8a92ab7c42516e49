// Command formrecovery recovers HubSpot form submissions into empty
// contact properties.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/formrecovery/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
