// Package main is the walldrop service binary.
package main

import (
	"os"

	"github.com/walldrop/walldrop/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
