package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
	"github.com/dreschagin/eventlogger/internal/domain/valueobject"
	"github.com/nats-io/nats.go"
)

type mockPublisher struct {
	msgs []*nats.Msg
	err  error
}

func (m *mockPublisher) PublishMsg(msg *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	m.msgs = append(m.msgs, msg)
	if m.err != nil {
		return nil, m.err
	}
	return &nats.PubAck{Stream: "EVENTS", Sequence: uint64(len(m.msgs))}, nil
}

func record(id string) *entity.Record {
	return entity.ReconstructRecord(id, "signup", valueobject.LevelInfo, map[string]interface{}{
		entity.FieldTimestamp: entity.ServerTimestamp{},
	})
}

func TestEventSink_WriteBatch(t *testing.T) {
	js := &mockPublisher{}
	sink := newEventSink(js, "app.events.", nil)
	sink.now = func() time.Time { return time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC) }

	if err := sink.WriteBatch(context.Background(), "event_logs", []*entity.Record{record("a"), record("b")}); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	if len(js.msgs) != 1 {
		t.Fatalf("Expected one message per batch, got %d", len(js.msgs))
	}
	msg := js.msgs[0]
	if msg.Subject != "app.events.event_logs" {
		t.Errorf("Expected subject app.events.event_logs, got %s", msg.Subject)
	}

	var body envelope
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		t.Fatalf("Message is not valid JSON: %v", err)
	}
	if len(body.Records) != 2 || body.Records[0].ID != "a" {
		t.Fatalf("Unexpected records: %+v", body.Records)
	}
	if body.Records[1].Fields[entity.FieldTimestamp] != "2026-02-07T10:00:00Z" {
		t.Errorf("Expected resolved timestamp, got %v", body.Records[1].Fields[entity.FieldTimestamp])
	}
}

func TestMessageID(t *testing.T) {
	if got := messageID([]*entity.Record{record("only")}); got != "only" {
		t.Errorf("Single record must use its own id, got %s", got)
	}

	ab := messageID([]*entity.Record{record("a"), record("b")})
	ba := messageID([]*entity.Record{record("b"), record("a")})
	if ab != ba {
		t.Error("Batch id must not depend on order")
	}

	msg, err := buildMessage("events.x", "x", []*entity.Record{record("a"), record("b")}, time.Now())
	if err != nil {
		t.Fatalf("buildMessage() error = %v", err)
	}
	if msg.Header.Get(nats.MsgIdHdr) != ab {
		t.Errorf("Expected %s header %s, got %s", nats.MsgIdHdr, ab, msg.Header.Get(nats.MsgIdHdr))
	}
}

func TestEventSink_PublishError(t *testing.T) {
	js := &mockPublisher{err: nats.ErrTimeout}
	sink := newEventSink(js, "", nil)

	err := sink.WriteOne(context.Background(), "event_logs", record("a"))
	if !errors.Is(err, nats.ErrTimeout) {
		t.Fatalf("Expected timeout error, got %v", err)
	}
	if js.msgs[0].Subject != "events.event_logs" {
		t.Errorf("Expected default prefix, got %s", js.msgs[0].Subject)
	}
}

func TestEventSink_InvalidCollection(t *testing.T) {
	sink := newEventSink(&mockPublisher{}, "events", nil)

	for _, collection := range []string{"", "a.b", "all>", "x y"} {
		if err := sink.WriteOne(context.Background(), collection, record("a")); err == nil {
			t.Errorf("Expected error for collection %q", collection)
		}
	}
}

func TestEventSink_NotReady(t *testing.T) {
	var sink *EventSink
	if err := sink.Ready(context.Background()); !errors.Is(err, port.ErrSinkNotInitialized) {
		t.Fatalf("nil sink Ready() = %v", err)
	}

	disconnected := newEventSink(&mockPublisher{}, "events", nil)
	disconnected.connected = func() bool { return false }
	if err := disconnected.Ready(context.Background()); !errors.Is(err, port.ErrSinkNotInitialized) {
		t.Fatalf("disconnected Ready() = %v", err)
	}
}
