// Command mdkctl is a small demo CLI fronting an mdk.Core: build a
// key package, create a group, and send a message, all against a
// Postgres-backed store via --dsn.
package main

import (
	"fmt"
	"os"

	"github.com/suhailsaqan/mdk/internal/mdkcli"
)

func main() {
	if err := mdkcli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mdkctl:", err)
		os.Exit(1)
	}
}
