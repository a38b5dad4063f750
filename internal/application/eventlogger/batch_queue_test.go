package eventlogger

import (
	"context"
	"testing"
	"time"

	"github.com/dreschagin/eventlogger/internal/domain/entity"
	"github.com/dreschagin/eventlogger/internal/domain/valueobject"
)

func TestBatchQueue_StartTimeTransitions(t *testing.T) {
	var q batchQueue
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, ok := q.startTime(); ok {
		t.Fatal("empty queue has no start time")
	}

	q.enqueue(entity.NewRecord("a", valueobject.LevelInfo, nil), t0)
	q.enqueue(entity.NewRecord("b", valueobject.LevelInfo, nil), t0.Add(time.Second))

	started, ok := q.startTime()
	if !ok || !started.Equal(t0) {
		t.Fatalf("start time = %v, want %v", started, t0)
	}

	if q.dueForFlush(t0.Add(4*time.Second), 5*time.Second) {
		t.Fatal("batch must not be due before the timeout")
	}
	if !q.dueForFlush(t0.Add(5*time.Second), 5*time.Second) {
		t.Fatal("batch must be due once the timeout elapsed")
	}

	snapshot, ok := q.beginFlush()
	if !ok || len(snapshot) != 2 || snapshot[0].Name() != "a" {
		t.Fatalf("unexpected snapshot: %v", snapshot)
	}
	if _, ok := q.startTime(); ok {
		t.Fatal("snapshot must clear the start time")
	}

	// Запись во время отправки начинает новый пакет
	t1 := t0.Add(10 * time.Second)
	q.enqueue(entity.NewRecord("c", valueobject.LevelInfo, nil), t1)
	if started, _ := q.startTime(); !started.Equal(t1) {
		t.Fatalf("new batch start = %v, want %v", started, t1)
	}
	if _, ok := q.beginFlush(); ok {
		t.Fatal("second flush must be refused while one is in progress")
	}
	if q.dueForFlush(t1.Add(time.Hour), time.Second) {
		t.Fatal("timer must not fire while a flush is in progress")
	}

	q.endFlush()
	if snapshot, ok := q.beginFlush(); !ok || len(snapshot) != 1 {
		t.Fatalf("expected the fresh batch after endFlush, got %v", snapshot)
	}
}

func TestBatchQueue_AwaitFlushWaitsForInFlight(t *testing.T) {
	var q batchQueue
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q.enqueue(entity.NewRecord("a", valueobject.LevelInfo, nil), now)
	if _, ok := q.beginFlush(); !ok {
		t.Fatal("expected first snapshot")
	}
	q.enqueue(entity.NewRecord("b", valueobject.LevelInfo, nil), now)

	got := make(chan []*entity.Record, 1)
	go func() {
		snapshot, _ := q.awaitFlush(context.Background())
		got <- snapshot
	}()

	select {
	case <-got:
		t.Fatal("awaitFlush must wait for the running flush")
	case <-time.After(20 * time.Millisecond):
	}

	q.endFlush()
	select {
	case snapshot := <-got:
		if len(snapshot) != 1 || snapshot[0].Name() != "b" {
			t.Fatalf("unexpected snapshot: %v", snapshot)
		}
	case <-time.After(time.Second):
		t.Fatal("awaitFlush did not resume after endFlush")
	}
}

func TestBatchQueue_AwaitFlushHonoursContext(t *testing.T) {
	var q batchQueue
	q.enqueue(entity.NewRecord("a", valueobject.LevelInfo, nil), time.Now())
	q.beginFlush()
	q.enqueue(entity.NewRecord("b", valueobject.LevelInfo, nil), time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.awaitFlush(ctx); ok {
		t.Fatal("cancelled wait must not take a snapshot")
	}
	if q.len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.len())
	}
}
