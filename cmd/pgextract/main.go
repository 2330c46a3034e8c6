// Command pgextract extracts PostgreSQL catalog metadata.
package main

import (
	"os"

	"github.com/koustreak/pgextract/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
