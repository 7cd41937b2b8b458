package ui

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Table renders rows of data in aligned columns.
type Table struct {
	writer  *tabwriter.Writer
	headers []string
}

func NewTable(out io.Writer, headers ...string) *Table {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	table := &Table{writer: writer, headers: headers}
	_, _ = fmt.Fprintln(writer, strings.Join(headers, "\t"))

	return table
}

// Row appends a row of values. The number of values should match the number
// of headers.
func (table *Table) Row(values ...any) {
	parts := make([]string, len(values))
	for index, value := range values {
		parts[index] = fmt.Sprintf("%v", value)
	}

	_, _ = fmt.Fprintln(table.writer, strings.Join(parts, "\t"))
}

// Flush writes the buffered output.
func (table *Table) Flush() error {
	return table.writer.Flush()
}
