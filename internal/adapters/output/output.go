// Package output renders command results for the terminal.
package output

import (
	"io"
	"os"
)

// Printer renders output to stdout.
type Printer interface {
	Print(v any) error
}

// New returns the printer for a configured format.
func New(format string, out io.Writer) Printer {
	if format == "json" {
		return JSONPrinter{Out: out}
	}
	return HumanPrinter{Out: out}
}

func writer(out io.Writer) io.Writer {
	if out == nil {
		return os.Stdout
	}
	return out
}
