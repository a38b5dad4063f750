package eventlogger

import (
	"errors"
	"fmt"

	"github.com/dreschagin/eventlogger/internal/application/port"
)

var (
	// ErrRemoteUninitialized is reported when the remote sink has no backing store.
	ErrRemoteUninitialized = errors.New("remote store is not initialized")
	// ErrRemoteWriteFailed is reported once every attempt of a single-record write failed.
	ErrRemoteWriteFailed = errors.New("remote write failed")
	// ErrBatchFlushFailed is reported once every attempt of a batch write failed.
	ErrBatchFlushFailed = errors.New("batch flush failed")
	// ErrLocalFormatFailed is reported when an event could not be rendered for the local sink.
	ErrLocalFormatFailed = errors.New("local sink format failure")
)

const uninitializedHint = "set up the remote store and pass it to eventlogger.New before enabling remote logging"

// classify maps a sink error onto the pipeline's error kinds.
// attempts is the number of write attempts made before giving up.
func classify(err error, kind error, attempts int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, port.ErrSinkNotInitialized) {
		return fmt.Errorf("%w (%s): %v", ErrRemoteUninitialized, uninitializedHint, err)
	}
	return fmt.Errorf("%w after %d attempt(s): %v", kind, attempts, err)
}

// errorKind is the short label used for metric outcomes.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRemoteUninitialized):
		return "uninitialized"
	case errors.Is(err, ErrBatchFlushFailed):
		return "batch_failed"
	default:
		return "write_failed"
	}
}
