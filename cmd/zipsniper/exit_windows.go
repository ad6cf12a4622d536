//go:build windows

package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"golang.org/x/term"
)

// exit keeps the console open on failure so the error can be read, then terminates with non-zero status.
func exit(err error) {
	if err == nil || flags.WroteHelp(err) {
		return
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		_, _ = fmt.Fprintf(os.Stderr, "Press any key to close console\n")
		_, _, _ = bufio.NewReader(os.Stdin).ReadRune()
	}

	os.Exit(1)
}
