// Package sink streams heterogeneous records into a delimited tabular file
// without buffering the dataset: the schema is discovered incrementally and
// each row is written with the schema width current at that moment.
package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/datakettle/unstable-ingest/pkg/client"
)

// Sentinel is written in place of a field absent from a record, so every
// row has the full arity of the schema at write time.
const Sentinel = "N/A"

// Error represents a failed write or flush on the output stream. It is
// fatal to the run: there are no partial-success semantics for the artifact.
type Error struct {
	Op  string // "write", "flush", "close"
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("sink %s failed: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Writer appends pages to an output stream as CSV rows. The header is
// emitted once, before the first data row; fields discovered later widen
// subsequent rows only. Previously emitted rows are never rewritten, so a
// run whose schema grows mid-stream has a ragged tail relative to the final
// schema. Callers that need a fixed-width table must pre-scan the dataset
// before streaming; that trade-off buys the single pass.
type Writer struct {
	out           io.WriteCloser
	csv           *csv.Writer
	schema        *Schema
	headerWritten bool
	rowsWritten   int
	logger        zerolog.Logger
}

// NewWriter creates a writer that streams to out. The writer owns out for
// the run's duration and closes it in Close.
func NewWriter(out io.WriteCloser) *Writer {
	return &Writer{
		out:    out,
		csv:    csv.NewWriter(out),
		schema: NewSchema(),
		logger: log.With().Str("component", "sink").Logger(),
	}
}

// Create opens path for writing and returns a writer streaming to it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &Error{Op: "write", Err: err}
	}
	return NewWriter(f), nil
}

// AppendPage writes every record of the page and returns the number of rows
// written. Failed and empty pages contribute nothing. Memory use is bounded
// by the one page being appended.
func (w *Writer) AppendPage(page *client.Page) (int, error) {
	if page == nil || len(page.Records) == 0 {
		return 0, nil
	}

	// Union of the page's field names, merged into the running schema.
	union := make(map[string]bool)
	var fields []string
	for _, rec := range page.Records {
		for name := range rec {
			if !union[name] {
				union[name] = true
				fields = append(fields, name)
			}
		}
	}
	if added := w.schema.Merge(fields); added > 0 {
		w.logger.Debug().
			Int("page", page.Number).
			Int("new_fields", added).
			Int("fields", w.schema.Width()).
			Msg("Schema widened")
	}

	if !w.headerWritten {
		if err := w.csv.Write(w.schema.Fields()); err != nil {
			return 0, &Error{Op: "write", Err: err}
		}
		w.headerWritten = true
	}

	columns := w.schema.Fields()
	row := make([]string, 0, len(columns))
	for _, rec := range page.Records {
		row = row[:0]
		for _, name := range columns {
			value, ok := rec[name]
			if !ok {
				row = append(row, Sentinel)
				continue
			}
			row = append(row, formatValue(value))
		}
		if err := w.csv.Write(row); err != nil {
			return 0, &Error{Op: "write", Err: err}
		}
	}

	// Surface buffered write errors per page rather than only at Close.
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return 0, &Error{Op: "flush", Err: err}
	}

	w.rowsWritten += len(page.Records)
	return len(page.Records), nil
}

// Schema returns the current schema.
func (w *Writer) Schema() *Schema {
	return w.schema
}

// RowsWritten returns the total data rows written so far.
func (w *Writer) RowsWritten() int {
	return w.rowsWritten
}

// Close flushes buffered rows and closes the output stream. It must be
// called on every exit path, including early cancellation.
func (w *Writer) Close() error {
	w.csv.Flush()
	flushErr := w.csv.Error()

	if err := w.out.Close(); err != nil {
		if flushErr == nil {
			return &Error{Op: "close", Err: err}
		}
	}
	if flushErr != nil {
		return &Error{Op: "flush", Err: flushErr}
	}
	return nil
}

// formatValue renders a record value for CSV output. A present-but-null
// field renders empty, unlike an absent field which gets the sentinel.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
