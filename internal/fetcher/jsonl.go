package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineBuffer     = 16 * 1024 * 1024
)

// StreamJSONL decodes newline-delimited JSON, one value per non-blank line.
func StreamJSONL[T any](ctx context.Context, r io.Reader) (<-chan Record[T], <-chan error) {
	outCh := make(chan Record[T], 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineBuffer)

		line := 0
		for scanner.Scan() {
			line++
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "jsonl: context cancelled")
				return
			}

			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}

			rec := Record[T]{Index: line, Raw: text}
			if err := json.Unmarshal([]byte(text), &rec.Value); err != nil {
				rec.Err = eris.Wrapf(err, "jsonl: line %d", line)
			}

			select {
			case outCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "jsonl: context cancelled")
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errCh <- eris.Wrap(err, "jsonl: read input")
		}
	}()

	return outCh, errCh
}
