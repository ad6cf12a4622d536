//go:build !windows

package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

// exit terminates with non-zero status for any error except the one produced by --help.
func exit(err error) {
	if err != nil && !flags.WroteHelp(err) {
		os.Exit(1)
	}
}
