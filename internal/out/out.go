// Package out renders the human-readable, line-oriented status output:
// progress, the change diff, the commit summary and the diagnostic report.
//
// This is not a machine protocol, but the printed quantities (error count,
// MiB installed, package/dir/file counts) are the observable contract for
// scripts that grep the output, so their formatting is stable.
package out

import (
	"fmt"
	"io"
	"os"
)

// Verbosity levels. Msg prints at Normal and above, Detail at Verbose and
// above.
const (
	Quiet   = 0
	Normal  = 1
	Verbose = 2
	Debug   = 3
)

// Output writes human-facing messages. Errors and warnings go to ErrW.
type Output struct {
	W         io.Writer
	ErrW      io.Writer
	Verbosity int

	// ShowProgress enables the single-line progress rendering.
	ShowProgress bool
	lastPercent  int
}

// New returns an Output at Normal verbosity.
func New(w, errw io.Writer) *Output {
	if w == nil {
		w = os.Stdout
	}
	if errw == nil {
		errw = os.Stderr
	}
	return &Output{W: w, ErrW: errw, Verbosity: Normal, lastPercent: -1}
}

// Msg prints a status line at Normal verbosity and above.
func (o *Output) Msg(format string, args ...any) {
	if o.Verbosity >= Normal {
		fmt.Fprintf(o.W, format+"\n", args...)
	}
}

// Detail prints a status line at Verbose verbosity and above.
func (o *Output) Detail(format string, args ...any) {
	if o.Verbosity >= Verbose {
		fmt.Fprintf(o.W, format+"\n", args...)
	}
}

// Warn prints a warning line.
func (o *Output) Warn(format string, args ...any) {
	fmt.Fprintf(o.ErrW, "WARNING: "+format+"\n", args...)
}

// Err prints an error line.
func (o *Output) Err(format string, args ...any) {
	fmt.Fprintf(o.ErrW, "ERROR: "+format+"\n", args...)
}

// Progress renders cumulative progress as a percentage line. Repeated
// calls with the same percentage are collapsed.
func (o *Output) Progress(done, total uint64) {
	if !o.ShowProgress || total == 0 {
		return
	}
	percent := int(done * 100 / total)
	if percent == o.lastPercent {
		return
	}
	o.lastPercent = percent
	fmt.Fprintf(o.W, "\r%3d%%", percent)
	if percent >= 100 {
		fmt.Fprintln(o.W)
	}
}

// HumanSize formats a byte count with a binary unit, returning the scaled
// integral value and the unit name.
func HumanSize(n uint64) (uint64, string) {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	i := 0
	for n >= 1024 && i < len(units)-1 {
		n /= 1024
		i++
	}
	return n, units[i]
}

// MiB converts a byte count to whole mebibytes, the unit of the commit
// summary line.
func MiB(n uint64) uint64 { return n / (1024 * 1024) }
