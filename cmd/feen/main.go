// Command feen is the gateway's executable: serve, migrate, healthcheck.
package main

import (
	"fmt"
	"os"

	"github.com/feen-dev/feen-gateway/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
