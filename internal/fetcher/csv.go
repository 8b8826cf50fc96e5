package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming delimited-row parser.
type CSVOptions struct {
	Delimiter rune // default ','
	HasHeader bool // if true, first row is skipped
	Comment   rune // comment character (0 = none)
	TrimSpace bool
	// Fields, when positive, marks rows with a different field count as
	// per-record failures instead of aborting the stream.
	Fields int
}

// StreamCSV reads delimited rows and sends them to a channel. Record.Index is
// the 1-based line number of the row.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Record[[]string], <-chan error) {
	rowCh := make(chan Record[[]string], 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1 // allow variable fields

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}

			var rec Record[[]string]
			var parseErr *csv.ParseError
			switch {
			case errors.As(err, &parseErr):
				rec.Err = eris.Wrapf(err, "csv: line %d", parseErr.Line)
				rec.Index = parseErr.Line
			case err != nil:
				errCh <- eris.Wrap(err, "csv: read row")
				return
			case len(record) > 0:
				rec.Index, _ = reader.FieldPos(0)
			}
			line := rec.Index

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}
			rec.Value = record
			rec.Raw = strings.Join(record, string(reader.Comma))

			if first && opts.HasHeader {
				first = false
				continue
			}
			first = false

			if rec.Err == nil && opts.Fields > 0 && len(record) != opts.Fields {
				rec.Err = eris.Errorf("csv: line %d: expected %d fields, got %d", line, opts.Fields, len(record))
			}

			select {
			case rowCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
