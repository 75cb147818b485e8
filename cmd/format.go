package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// tabular is data that can be printed as a table.
type tabular interface {
	Header() []string
	Rows() [][]string
}

// Formatter renders command results.
type Formatter interface {
	Format(data any) ([]byte, error)
}

type JSONFormatter struct{}

func (JSONFormatter) Format(data any) ([]byte, error) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

type YAMLFormatter struct{}

func (YAMLFormatter) Format(data any) ([]byte, error) {
	return yaml.Marshal(data)
}

type TableFormatter struct{}

func (TableFormatter) Format(data any) ([]byte, error) {
	t, ok := data.(tabular)
	if !ok {
		return nil, fmt.Errorf("%T cannot be printed as a table", data)
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(t.Header(), "\t"))
	for _, row := range t.Rows() {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newFormatter(format string) (Formatter, error) {
	switch format {
	case "json":
		return JSONFormatter{}, nil
	case "yaml":
		return YAMLFormatter{}, nil
	case "table":
		return TableFormatter{}, nil
	}
	return nil, fmt.Errorf("unsupported output format %q", format)
}

func writeFormatted(w io.Writer, format string, data any) error {
	formatter, err := newFormatter(format)
	if err != nil {
		return err
	}
	out, err := formatter.Format(data)
	if err != nil {
		return fmt.Errorf("failed to format output data: %w", err)
	}
	_, err = w.Write(out)
	return err
}
