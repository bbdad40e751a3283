package out

import (
	"fmt"
	"io"
	"strings"
)

// Indent prints space-separated items under label lines, wrapping at Width
// columns when Width is positive. The diagnostic report and the change
// diff are built on this.
type Indent struct {
	W     io.Writer
	Width int

	col    int // current line length, 0 when at line start
	indent int // continuation indent of the open group
}

// NewIndent returns an Indent writing to w without wrapping.
func NewIndent(w io.Writer) *Indent {
	return &Indent{W: w}
}

// Line prints a full line on its own, closing any open group first.
func (in *Indent) Line(format string, args ...any) {
	in.End()
	fmt.Fprintf(in.W, format, args...)
	fmt.Fprintln(in.W)
}

// Group opens an item group headed by the given text; subsequent items
// continue on the same line, wrapped to the group's indent.
func (in *Indent) Group(indent int, format string, args ...any) {
	in.End()
	head := fmt.Sprintf(format, args...)
	fmt.Fprint(in.W, head)
	in.col = len(head)
	in.indent = indent
}

// Open reports whether a group line is currently open.
func (in *Indent) Open() bool { return in.col > 0 }

// Item appends one space-separated item to the open group, wrapping when
// the configured width would be exceeded.
func (in *Indent) Item(s string) {
	if in.col == 0 {
		in.Group(in.indent, "%s", strings.Repeat(" ", in.indent))
	}
	if in.Width > 0 && in.col+1+len(s) > in.Width {
		fmt.Fprintln(in.W)
		pad := strings.Repeat(" ", in.indent)
		fmt.Fprint(in.W, pad, s)
		in.col = in.indent + len(s)
		return
	}
	fmt.Fprint(in.W, " ", s)
	in.col += 1 + len(s)
}

// End closes the open group, if any, terminating its line.
func (in *Indent) End() {
	if in.col == 0 {
		return
	}
	fmt.Fprintln(in.W)
	in.col = 0
}
