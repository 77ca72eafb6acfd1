// Package output renders human-facing CLI results.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Printer writes status lines and tables. Colors are disabled automatically
// when stdout is not a terminal.
type Printer struct {
	out io.Writer
	err io.Writer

	success *color.Color
	failure *color.Color
	info    *color.Color
	warn    *color.Color
	header  *color.Color
}

// New prints to stdout and stderr.
func New() *Printer {
	return NewWithWriters(os.Stdout, os.Stderr)
}

func NewWithWriters(out, err io.Writer) *Printer {
	return &Printer{
		out:     out,
		err:     err,
		success: color.New(color.FgGreen, color.Bold),
		failure: color.New(color.FgRed, color.Bold),
		info:    color.New(color.FgCyan),
		warn:    color.New(color.FgYellow),
		header:  color.New(color.FgWhite, color.Bold),
	}
}

func (p *Printer) Success(format string, a ...any) {
	p.success.Fprintf(p.out, "✓ "+format+"\n", a...)
}

func (p *Printer) Error(format string, a ...any) {
	p.failure.Fprintf(p.err, "✗ "+format+"\n", a...)
}

func (p *Printer) Info(format string, a ...any) {
	p.info.Fprintf(p.out, format+"\n", a...)
}

func (p *Printer) Warn(format string, a ...any) {
	p.warn.Fprintf(p.out, "⚠ "+format+"\n", a...)
}

// JSON writes v indented.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table collects rows and prints them with aligned columns.
type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row. Missing cells render empty, extra cells are ignored.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

func (t *Table) Len() int { return len(t.rows) }

// Render prints the table through p.
func (p *Printer) Render(t *Table) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	for i, h := range t.headers {
		p.header.Fprintf(p.out, "%-*s  ", widths[i], h)
	}
	fmt.Fprintln(p.out)

	for i := range t.headers {
		fmt.Fprint(p.out, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(p.out)

	for _, row := range t.rows {
		for i, cell := range row {
			fmt.Fprintf(p.out, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(p.out)
	}
}

// Truncate shortens s to n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
