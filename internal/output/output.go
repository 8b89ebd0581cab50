// Package output provides consistent CLI output formatting.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Writer formats CLI output. Icons and in-place progress are only used
// on a terminal; piped output stays plain and line-oriented.
type Writer struct {
	out io.Writer
	tty bool
}

// New creates a Writer, detecting whether out is a terminal.
func New(out io.Writer) *Writer {
	w := &Writer{out: out}
	if f, ok := out.(*os.File); ok {
		w.tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return w
}

// NewPlain creates a Writer that never uses terminal features.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a message with an icon prefix on terminals.
// Write errors are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if w.tty && icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
		return
	}
	_, _ = fmt.Fprintln(w.out, msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Status("✓", fmt.Sprintf(format, args...))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Status("!", fmt.Sprintf(format, args...))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Status("✗", fmt.Sprintf(format, args...))
}

// Printf prints without any prefix.
func (w *Writer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format, args...)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Field prints an aligned "label: value" line, for result details.
func (w *Writer) Field(label string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %-16s %v\n", label+":", value)
}

// Rule prints a separator line.
func (w *Writer) Rule() {
	_, _ = fmt.Fprintln(w.out, strings.Repeat("-", 60))
}

// Progress prints load progress. On terminals it rewrites in place;
// otherwise it prints a line per call site's discretion.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	if w.tty {
		_, _ = fmt.Fprintf(w.out, "\r%3.0f%% %s", pct, msg)
		if current >= total {
			_, _ = fmt.Fprintln(w.out)
		}
		return
	}
	_, _ = fmt.Fprintf(w.out, "%3.0f%% %s\n", pct, msg)
}
