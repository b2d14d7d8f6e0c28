// Package output provides output formatting utilities for the healthsync CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// PrintJSON writes a single item as indented JSON.
func PrintJSON(w io.Writer, item interface{}) error {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// StreamJSONSlice writes a slice as a compact JSON array, one element per line.
func StreamJSONSlice[T any](w io.Writer, items []T) error {
	if _, err := fmt.Fprint(w, "["); err != nil {
		return err
	}
	for i, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode item %d: %w", i, err)
		}
		sep := ""
		if i > 0 {
			sep = ","
		}
		if _, err := fmt.Fprintf(w, "%s\n%s", sep, data); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "]")
	return err
}

// Table is a column-aligned text table.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Append adds a row. Values are formatted with %v.
func (t *Table) Append(values ...interface{}) {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = fmt.Sprint(v)
	}
	t.Rows = append(t.Rows, row)
}

// Print writes the table. An empty table prints empty instead.
func (t *Table) Print(w io.Writer, empty string) error {
	if len(t.Rows) == 0 {
		_, err := fmt.Fprintln(w, empty)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Field is one labelled value of a PrintFields block.
type Field struct {
	Label string
	Value interface{}
}

// PrintFields writes "label: value" lines with the values aligned.
func PrintFields(w io.Writer, fields ...Field) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	for _, f := range fields {
		fmt.Fprintf(tw, "%s:\t%v\n", f.Label, f.Value)
	}
	return tw.Flush()
}
