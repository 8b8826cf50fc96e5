// Package fetcher streams records out of JSON array, JSON Lines and delimited
// text sources, and reads XLSX workbooks.
//
// Every streamer returns a record channel and an error channel. Records that
// fail to decode individually are delivered with Err set so callers can skip
// them and keep going; only structural failures (unreadable input, cancelled
// context) are sent on the error channel. Both channels are closed when
// processing completes.
package fetcher

// Record is one decoded element of a stream.
type Record[T any] struct {
	// Index is the 0-based element position for arrays and the 1-based line
	// number for line-oriented sources.
	Index int
	Value T
	Raw   string
	Err   error
}
