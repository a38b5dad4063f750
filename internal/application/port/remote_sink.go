package port

import (
	"context"
	"errors"

	"github.com/dreschagin/eventlogger/internal/domain/entity"
)

// ErrSinkNotInitialized is returned by a RemoteSink that is probed or written
// to before its backend has been set up.
var ErrSinkNotInitialized = errors.New("remote sink is not initialized")

// RemoteSink defines the remote persistence backend for enriched records.
// This port allows the pipeline to deliver events without coupling to a specific store.
type RemoteSink interface {
	// Ready reports whether the sink can accept writes.
	// An unready sink returns an error wrapping ErrSinkNotInitialized.
	Ready(ctx context.Context) error

	// WriteOne stores a single record in the named collection.
	WriteOne(ctx context.Context, collection string, record *entity.Record) error

	// WriteBatch stores all records in one atomic operation: either every
	// record is persisted or none is.
	WriteBatch(ctx context.Context, collection string, records []*entity.Record) error
}

// UnconfiguredSink stands in for a remote backend that was never set up.
// Every call fails with ErrSinkNotInitialized.
type UnconfiguredSink struct{}

func (UnconfiguredSink) Ready(context.Context) error { return ErrSinkNotInitialized }

func (UnconfiguredSink) WriteOne(context.Context, string, *entity.Record) error {
	return ErrSinkNotInitialized
}

func (UnconfiguredSink) WriteBatch(context.Context, string, []*entity.Record) error {
	return ErrSinkNotInitialized
}
