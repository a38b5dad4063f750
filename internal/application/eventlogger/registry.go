package eventlogger

import (
	"context"
	"errors"
	"sync"

	"github.com/dreschagin/eventlogger/internal/application/port"
)

var (
	ErrAlreadyInitialized = errors.New("event logger is already initialized")
	ErrNotInitialized     = errors.New("event logger is not initialized")
)

var (
	registryMu    sync.Mutex
	defaultLogger *EventLogger
)

// Init builds the process-wide logger. It fails if one already exists;
// call Reset first to replace it.
func Init(cfg Config, remote port.RemoteSink, opts Options) (*EventLogger, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if defaultLogger != nil {
		return nil, ErrAlreadyInitialized
	}
	defaultLogger = New(cfg, remote, opts)
	return defaultLogger, nil
}

// Default returns the process-wide logger created by Init.
func Default() (*EventLogger, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if defaultLogger == nil {
		return nil, ErrNotInitialized
	}
	return defaultLogger, nil
}

// Reset closes and forgets the process-wide logger. It is a no-op when none exists.
func Reset(ctx context.Context) error {
	registryMu.Lock()
	current := defaultLogger
	defaultLogger = nil
	registryMu.Unlock()

	if current == nil {
		return nil
	}
	return current.Close(ctx)
}
