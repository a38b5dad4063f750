package eventlogger

import (
	"context"
	"sync"
	"time"

	"github.com/dreschagin/eventlogger/internal/domain/entity"
)

// batchQueue хранит записи, ожидающие пакетной отправки.
// Один мьютекс защищает очередь, время начала пакета и флаг flushing.
type batchQueue struct {
	mu        sync.Mutex
	records   []*entity.Record
	startedAt time.Time
	flushing  bool
	idle      chan struct{} // закрывается в endFlush
}

// enqueue добавляет запись и возвращает новую длину очереди.
// startedAt выставляется только при переходе из пустой очереди в непустую.
func (q *batchQueue) enqueue(record *entity.Record, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.records) == 0 {
		q.startedAt = now
	}
	q.records = append(q.records, record)
	return len(q.records)
}

// beginFlush атомарно забирает снимок очереди и очищает ее.
// Возвращает false, если очередь пуста или отправка уже идет.
func (q *batchQueue) beginFlush() ([]*entity.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.flushing {
		return nil, false
	}
	return q.takeLocked()
}

func (q *batchQueue) takeLocked() ([]*entity.Record, bool) {
	if len(q.records) == 0 {
		return nil, false
	}

	snapshot := q.records
	q.records = nil
	q.startedAt = time.Time{}
	q.flushing = true
	q.idle = make(chan struct{})
	return snapshot, true
}

// awaitFlush дожидается окончания идущей отправки и забирает снимок.
// Возвращает false, если очередь пуста или ctx отменен во время ожидания.
func (q *batchQueue) awaitFlush(ctx context.Context) ([]*entity.Record, bool) {
	for {
		q.mu.Lock()
		if !q.flushing {
			defer q.mu.Unlock()
			return q.takeLocked()
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// endFlush снимает флаг отправки
func (q *batchQueue) endFlush() {
	q.mu.Lock()
	q.flushing = false
	if q.idle != nil {
		close(q.idle)
		q.idle = nil
	}
	q.mu.Unlock()
}

// dueForFlush сообщает, пора ли таймеру отправить пакет
func (q *batchQueue) dueForFlush(now time.Time, timeout time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.flushing || len(q.records) == 0 {
		return false
	}
	return now.Sub(q.startedAt) >= timeout
}

func (q *batchQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// startTime возвращает время начала текущего пакета
func (q *batchQueue) startTime() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.startedAt, len(q.records) > 0
}
