package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
)

// ErrInjected is returned by writes failed through FailNext.
var ErrInjected = errors.New("memory sink: injected failure")

// StoredRecord is a record as the sink persisted it.
type StoredRecord struct {
	ID        string
	Name      string
	Fields    map[string]interface{}
	WrittenAt time.Time
}

// EventSink keeps records in process memory. It de-duplicates by record id,
// so retried writes do not produce copies.
type EventSink struct {
	mu          sync.RWMutex
	collections map[string][]StoredRecord
	seen        map[string]struct{}
	notReady    bool
	failNext    int
	batches     int
	now         func() time.Time
}

func NewEventSink() *EventSink {
	return &EventSink{
		collections: make(map[string][]StoredRecord),
		seen:        make(map[string]struct{}),
		now:         time.Now,
	}
}

// SetReady toggles the readiness probe.
func (s *EventSink) SetReady(ready bool) {
	s.mu.Lock()
	s.notReady = !ready
	s.mu.Unlock()
}

// FailNext makes the next n write calls fail with ErrInjected.
func (s *EventSink) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

func (s *EventSink) Ready(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.notReady {
		return fmt.Errorf("memory sink: %w", port.ErrSinkNotInitialized)
	}
	return nil
}

func (s *EventSink) WriteOne(ctx context.Context, collection string, record *entity.Record) error {
	return s.WriteBatch(ctx, collection, []*entity.Record{record})
}

// WriteBatch stores all records or none of them.
func (s *EventSink) WriteBatch(_ context.Context, collection string, records []*entity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.notReady {
		return fmt.Errorf("memory sink: %w", port.ErrSinkNotInitialized)
	}
	if s.failNext > 0 {
		s.failNext--
		return ErrInjected
	}

	now := s.now()
	for _, record := range records {
		if _, dup := s.seen[record.ID()]; dup {
			continue
		}
		s.seen[record.ID()] = struct{}{}
		s.collections[collection] = append(s.collections[collection], StoredRecord{
			ID:        record.ID(),
			Name:      record.Name(),
			Fields:    record.Resolve(now),
			WrittenAt: now,
		})
	}
	s.batches++
	return nil
}

// Records returns a copy of the collection in write order.
func (s *EventSink) Records(collection string) []StoredRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StoredRecord(nil), s.collections[collection]...)
}

// Writes returns the number of successful write calls.
func (s *EventSink) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}
