// Package render prints run outcomes and backend data for the mangaba CLI.
//
// Output defaults to a table on a terminal and to JSON otherwise. An
// explicit --format always wins.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/mangaba-ai/mangaba-go"
)

// Format is an output format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a --format value. An empty string yields an empty
// Format so the caller can pick a default.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Renderer writes values to out in a single format.
type Renderer struct {
	format Format
	out    io.Writer
}

// New returns a Renderer. An empty format resolves to table when out is a
// terminal and to JSON otherwise.
func New(format Format, out io.Writer) *Renderer {
	if format == "" {
		if IsTerminal(out) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}
	return &Renderer{format: format, out: out}
}

func (r *Renderer) Format() Format {
	return r.format
}

// Outcome renders a settled run.
func (r *Renderer) Outcome(o mangaba.Outcome) error {
	if o.Error == "" && o.Err != nil {
		o.Error = o.Err.Error()
	}

	if r.format != FormatTable {
		return r.encode(o)
	}

	rows := [][2]string{
		{"RUN", o.RunID},
		{"GOAL", o.Goal},
		{"STATUS", o.Status.String()},
		{"TERMINAL", string(o.Terminal)},
		{"FRAMES", strconv.Itoa(o.Frames)},
		{"DROPPED", strconv.Itoa(o.Dropped)},
		{"LOGS", strconv.Itoa(o.LogLines)},
		{"PARTIALS", strconv.Itoa(o.PartialResults)},
		{"DURATION", o.Duration().Round(time.Millisecond).String()},
	}
	if o.Error != "" {
		rows = append(rows, [2]string{"ERROR", o.Error})
	}
	return r.keyValues(rows)
}

// Health renders the backend health check.
func (r *Renderer) Health(h *mangaba.Health) error {
	if r.format != FormatTable {
		return r.encode(h)
	}
	return r.keyValues([][2]string{
		{"STATUS", h.Status},
		{"MESSAGE", h.Message},
	})
}

// Example is one entry of the example catalog. Data is only set when the
// example was fetched.
type Example struct {
	Key  string `json:"key" yaml:"key"`
	File string `json:"file" yaml:"file"`
	Data any    `json:"data,omitempty" yaml:"data,omitempty"`
}

// NewExample builds an Example from a fetched document. Documents that are
// not valid JSON are kept as text.
func NewExample(ref mangaba.ExampleRef, file string, data json.RawMessage) Example {
	ex := Example{Key: string(ref), File: file}
	if data == nil {
		return ex
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		ex.Data = string(data)
		return ex
	}
	ex.Data = v
	return ex
}

// Examples renders the example catalog. Tables list keys and files; the
// fetched documents only appear in JSON and YAML.
func (r *Renderer) Examples(examples []Example) error {
	if r.format != FormatTable {
		return r.encode(examples)
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tFILE")
	for _, ex := range examples {
		fmt.Fprintf(w, "%s\t%s\n", ex.Key, ex.File)
	}
	return w.Flush()
}

func (r *Renderer) keyValues(rows [][2]string) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	return w.Flush()
}

func (r *Renderer) encode(v any) error {
	switch r.format {
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
