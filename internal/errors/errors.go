// Package errors defines the error taxonomy for the fetch/aggregate pipeline
// and the retry classification built on top of it. Per-row errors (malformed
// or out-of-order records) are absorbed and counted inside a job; per-job
// errors are absorbed and counted inside a batch; only configuration errors
// propagate to the caller before any job starts.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// NetworkError indicates a failed download attempt: a transport-level failure
// or a non-success HTTP status. Always retryable within the attempt budget.
type NetworkError struct {
	URL        string
	StatusCode int // 0 when the failure happened below HTTP
	Err        error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error { return e.Err }

// DecompressionError indicates a gzip archive that could not be decoded.
// Retryable: the archive may have been truncated by a failed prior download,
// so a fresh download can succeed; recurring corruption exhausts the attempt
// budget like any other retryable failure.
type DecompressionError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *DecompressionError) Error() string {
	return fmt.Sprintf("decompress %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecompressionError) Unwrap() error { return e.Err }

// MalformedRecordError indicates a tick row that could not be parsed. It is
// counted by the orchestrator and never aborts a job on its own; the caller
// applies its own threshold policy to the final count.
type MalformedRecordError struct {
	Line   int
	Reason string
}

// Error implements the error interface.
func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at line %d: %s", e.Line, e.Reason)
}

// OrderingError indicates a tick with a timestamp earlier than the start of
// the bucket currently open in the aggregator. The aggregator never silently
// reorders; the configured policy decides between skip-and-count and abort.
type OrderingError struct {
	Timestamp   time.Time
	BucketStart time.Time
}

// Error implements the error interface.
func (e *OrderingError) Error() string {
	return fmt.Sprintf("out-of-order tick at %s: before open bucket %s",
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.BucketStart.UTC().Format(time.RFC3339))
}

// FetchFailure is the terminal per-job error after all download attempts are
// exhausted. It does not abort the batch.
type FetchFailure struct {
	Job      string
	Attempts int
	LastErr  error
}

// Error implements the error interface.
func (e *FetchFailure) Error() string {
	return fmt.Sprintf("job %s failed after %d attempts: %v", e.Job, e.Attempts, e.LastErr)
}

// Unwrap returns the last attempt's error.
func (e *FetchFailure) Unwrap() error { return e.LastErr }

// OutputWriteError indicates the sink could not persist a day's bars. Fatal
// for the job. The sink's atomic-promotion contract guarantees no partial
// file is visible at the canonical path when this is returned.
type OutputWriteError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("write output %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *OutputWriteError) Unwrap() error { return e.Err }

// Retryable reports whether an error is worth another download attempt.
// Network and decompression failures are; everything else is permanent.
func Retryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var gzErr *DecompressionError
	return errors.As(err, &gzErr)
}
