package main

import (
	"os"

	"github.com/biocypher/biochatter-server/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
