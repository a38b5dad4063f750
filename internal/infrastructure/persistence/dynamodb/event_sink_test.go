package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
	"github.com/dreschagin/eventlogger/internal/domain/valueobject"
)

type fakeAPI struct {
	puts        []*dynamodb.PutItemInput
	transacts   []*dynamodb.TransactWriteItemsInput
	putErr      error
	transactErr error
}

func (f *fakeAPI) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, params)
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, params *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transacts = append(f.transacts, params)
	return &dynamodb.TransactWriteItemsOutput{}, f.transactErr
}

var fixedNow = time.Date(2026, 2, 7, 12, 34, 56, 0, time.UTC)

func newTestSink(client api, cfg Config) *EventSink {
	s := newEventSink(client, cfg)
	s.now = func() time.Time { return fixedNow }
	return s
}

func sampleRecord(name string) *entity.Record {
	return entity.NewRecord(name, valueobject.LevelInfo, map[string]interface{}{
		entity.FieldUserID:    "u-1",
		entity.FieldTimestamp: entity.ServerTimestamp{},
		"count":               3,
		"tags":                []interface{}{"a", true},
		"nested":              map[string]interface{}{"ok": nil},
	})
}

func TestEventSink_ToItem(t *testing.T) {
	sink := newTestSink(&fakeAPI{}, Config{TTL: time.Hour})
	record := sampleRecord("opened")

	item, err := sink.toItem(record, fixedNow)
	if err != nil {
		t.Fatalf("toItem() error = %v", err)
	}

	if v := item[attrID].(*types.AttributeValueMemberS).Value; v != record.ID() {
		t.Fatalf("id = %s", v)
	}
	if v := item[attrUserID].(*types.AttributeValueMemberS).Value; v != "u-1" {
		t.Fatalf("user_id = %s", v)
	}
	if v := item[attrCreatedAt].(*types.AttributeValueMemberN).Value; v != "1770467696000" {
		t.Fatalf("created_at = %s", v)
	}
	if v := item[attrExpiresAt].(*types.AttributeValueMemberN).Value; v != "1770471296" {
		t.Fatalf("expires_at = %s", v)
	}

	fields := item[attrFields].(*types.AttributeValueMemberM).Value
	if v := fields[entity.FieldTimestamp].(*types.AttributeValueMemberS).Value; v != "2026-02-07T12:34:56Z" {
		t.Fatalf("server timestamp not resolved: %s", v)
	}
	if v := fields["count"].(*types.AttributeValueMemberN).Value; v != "3" {
		t.Fatalf("count = %s", v)
	}
	tags := fields["tags"].(*types.AttributeValueMemberL).Value
	if len(tags) != 2 || !tags[1].(*types.AttributeValueMemberBOOL).Value {
		t.Fatalf("unexpected tags: %#v", tags)
	}
	nested := fields["nested"].(*types.AttributeValueMemberM).Value
	if !nested["ok"].(*types.AttributeValueMemberNULL).Value {
		t.Fatal("nil must map to NULL")
	}
}

func TestEventSink_WriteOne(t *testing.T) {
	client := &fakeAPI{}
	sink := newTestSink(client, Config{TablePrefix: "dev_"})

	if err := sink.WriteOne(context.Background(), "event_logs", sampleRecord("x")); err != nil {
		t.Fatalf("WriteOne() error = %v", err)
	}
	if len(client.puts) != 1 {
		t.Fatalf("puts = %d", len(client.puts))
	}
	put := client.puts[0]
	if *put.TableName != "dev_event_logs" {
		t.Fatalf("table = %s", *put.TableName)
	}
	if put.ConditionExpression == nil || !strings.Contains(*put.ConditionExpression, "attribute_not_exists") {
		t.Fatal("put must be conditional on the record id")
	}
}

func TestEventSink_WriteOneDuplicateIsSuccess(t *testing.T) {
	client := &fakeAPI{putErr: &types.ConditionalCheckFailedException{Message: stringPointer("exists")}}
	sink := newTestSink(client, Config{})

	if err := sink.WriteOne(context.Background(), "event_logs", sampleRecord("x")); err != nil {
		t.Fatalf("duplicate write must succeed, got %v", err)
	}

	client.putErr = errors.New("throttled")
	if err := sink.WriteOne(context.Background(), "event_logs", sampleRecord("x")); err == nil {
		t.Fatal("expected error")
	}
}

func TestEventSink_WriteBatchChunks(t *testing.T) {
	client := &fakeAPI{}
	sink := newTestSink(client, Config{})

	records := make([]*entity.Record, 0, 250)
	for i := 0; i < 250; i++ {
		records = append(records, sampleRecord(fmt.Sprintf("e%d", i)))
	}

	if err := sink.WriteBatch(context.Background(), "event_logs", records); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	if len(client.transacts) != 3 {
		t.Fatalf("transactions = %d, want 3", len(client.transacts))
	}
	sizes := []int{100, 100, 50}
	for i, tx := range client.transacts {
		if len(tx.TransactItems) != sizes[i] {
			t.Fatalf("transaction %d size = %d, want %d", i, len(tx.TransactItems), sizes[i])
		}
		if tx.ClientRequestToken == nil || len(*tx.ClientRequestToken) != 36 {
			t.Fatalf("transaction %d has invalid token", i)
		}
	}
}

func TestEventSink_WriteBatchError(t *testing.T) {
	client := &fakeAPI{transactErr: errors.New("cancelled")}
	sink := newTestSink(client, Config{})

	err := sink.WriteBatch(context.Background(), "event_logs", []*entity.Record{sampleRecord("a")})
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestToken_StableAndOrderIndependent(t *testing.T) {
	a := entity.ReconstructRecord("id-a", "a", valueobject.LevelInfo, nil)
	b := entity.ReconstructRecord("id-b", "b", valueobject.LevelInfo, nil)

	if requestToken([]*entity.Record{a, b}) != requestToken([]*entity.Record{b, a}) {
		t.Fatal("token must not depend on order")
	}
	if requestToken([]*entity.Record{a}) == requestToken([]*entity.Record{a, b}) {
		t.Fatal("different batches must get different tokens")
	}
}

func TestEventSink_NotReady(t *testing.T) {
	var sink *EventSink
	if err := sink.Ready(context.Background()); !errors.Is(err, port.ErrSinkNotInitialized) {
		t.Fatalf("nil sink Ready() = %v", err)
	}

	if err := newTestSink(&fakeAPI{}, Config{}).WriteOne(context.Background(), "x", sampleRecord("a")); err == nil {
		t.Fatal("short table name must be rejected")
	}
}

func stringPointer(v string) *string {
	return &v
}
