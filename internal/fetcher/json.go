package fetcher

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray decodes a JSON array streaming, sending each element to a channel.
// Expects input in the form [{...},{...}].
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan Record[T], <-chan error) {
	outCh := make(chan Record[T], 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)

		// Expect opening bracket
		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for i := 0; decoder.More(); i++ {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var raw json.RawMessage
			if err := decoder.Decode(&raw); err != nil {
				errCh <- eris.Wrapf(err, "json: decode element %d", i)
				return
			}

			rec := Record[T]{Index: i, Raw: string(raw)}
			if err := json.Unmarshal(raw, &rec.Value); err != nil {
				rec.Err = eris.Wrapf(err, "json: element %d", i)
			}

			select {
			case outCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		// Consume closing bracket
		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// Collect drains a record stream, splitting decoded values from per-record
// failures. It returns the first structural error, if any.
func Collect[T any](recCh <-chan Record[T], errCh <-chan error) ([]Record[T], []Record[T], error) {
	var ok, bad []Record[T]
	for rec := range recCh {
		if rec.Err != nil {
			bad = append(bad, rec)
			continue
		}
		ok = append(ok, rec)
	}
	var firstErr error
	for err := range errCh {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return ok, bad, firstErr
}
