package logging

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes.
const (
	reset = "\033[0m"
	bold  = "\033[1m"
	cyan  = "\033[36m"
	dim   = "\033[2m"
)

var logoLines = [4]string{
	`  __  __       _     _____ _                    _ `,
	` |  \/  | __ _(_)_ _|_   _| |_  _ _ ___ __ _ __| |`,
	` | |\/| / _` + "`" + ` | | ' \ | | | ' \| '_/ -_) _` + "`" + ` / _` + "`" + ` |`,
	` |_|  |_\__,_|_|_||_||_| |_||_|_| \___\__,_\__,_|`,
}

// PrintBanner prints the MainThread ASCII art logo followed by the
// version and listen address. Colors are used only when stderr is a TTY.
func PrintBanner(ver, addr string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	for _, line := range logoLines {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", bold+cyan, line, reset)
		} else {
			fmt.Fprintln(os.Stderr, line)
		}
	}

	if color {
		fmt.Fprintf(os.Stderr, "\n  %sversion%s %s   %saddr%s %s\n\n",
			dim, reset, ver, dim, reset, addr)
	} else {
		fmt.Fprintf(os.Stderr, "\n  version %s   addr %s\n\n", ver, addr)
	}
}
