package s3

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
	"github.com/dreschagin/eventlogger/internal/domain/valueobject"
)

type fakeObjectAPI struct {
	puts    []*s3.PutObjectInput
	bodies  [][]byte
	putErr  error
	listed  *s3.ListObjectsV2Input
	objects []types.Object
}

func (f *fakeObjectAPI) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, params)
	body, _ := io.ReadAll(params.Body)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, f.putErr
}

func (f *fakeObjectAPI) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listed = params
	return &s3.ListObjectsV2Output{Contents: f.objects}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + *params.Key}, nil
}

var archiveNow = time.Date(2026, 2, 7, 12, 34, 56, 789000000, time.UTC)

func newTestArchive(client objectAPI, cfg Config) *ArchiveSink {
	cfg.Bucket = "events"
	s := newArchiveSink(client, fakePresigner{}, cfg)
	s.now = func() time.Time { return archiveNow }
	return s
}

func archiveRecord(id, name string) *entity.Record {
	return entity.ReconstructRecord(id, name, valueobject.LevelError, map[string]interface{}{
		entity.FieldTimestamp: entity.ServerTimestamp{},
		"code":                500,
	})
}

func TestObjectKey(t *testing.T) {
	single, err := objectKey("event_logs", archiveNow, []*entity.Record{archiveRecord("id-1", "a")})
	if err != nil {
		t.Fatalf("objectKey() error = %v", err)
	}
	if single != "event_logs/2026/02/07/20260207T123456.789Z_id-1.jsonl" {
		t.Fatalf("unexpected single key: %s", single)
	}

	ab, _ := objectKey("event_logs", archiveNow, []*entity.Record{archiveRecord("a", "a"), archiveRecord("b", "b")})
	ba, _ := objectKey("event_logs", archiveNow, []*entity.Record{archiveRecord("b", "b"), archiveRecord("a", "a")})
	if ab != ba {
		t.Fatalf("batch key depends on order: %s vs %s", ab, ba)
	}

	if _, err := objectKey("../etc", archiveNow, []*entity.Record{archiveRecord("a", "a")}); err == nil {
		t.Fatal("expected invalid collection error")
	}
}

func TestEncodeBatch(t *testing.T) {
	body, err := encodeBatch([]*entity.Record{archiveRecord("a", "first"), archiveRecord("b", "second")}, archiveNow)
	if err != nil {
		t.Fatalf("encodeBatch() error = %v", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	var lines []archiveLine
	for scanner.Scan() {
		var line archiveLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		lines = append(lines, line)
	}

	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].ID != "a" || lines[1].Event != "second" || lines[0].Level != "error" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
	if lines[0].Fields[entity.FieldTimestamp] != "2026-02-07T12:34:56.789Z" {
		t.Fatalf("timestamp not resolved: %v", lines[0].Fields[entity.FieldTimestamp])
	}
}

func TestArchiveSink_WriteBatch(t *testing.T) {
	client := &fakeObjectAPI{}
	sink := newTestArchive(client, Config{})

	records := []*entity.Record{archiveRecord("a", "x"), archiveRecord("b", "y"), archiveRecord("c", "z")}
	if err := sink.WriteBatch(context.Background(), "event_logs", records); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	if len(client.puts) != 1 {
		t.Fatalf("puts = %d, want one object per batch", len(client.puts))
	}
	put := client.puts[0]
	if *put.Bucket != "events" || *put.ContentType != contentTypeJSONLines {
		t.Fatalf("unexpected put: bucket=%s type=%s", *put.Bucket, *put.ContentType)
	}
	if !strings.HasPrefix(*put.Key, "event_logs/2026/02/07/") {
		t.Fatalf("unexpected key: %s", *put.Key)
	}
	if n := bytes.Count(client.bodies[0], []byte("\n")); n != 3 {
		t.Fatalf("body has %d lines, want 3", n)
	}
}

func TestArchiveSink_WriteError(t *testing.T) {
	client := &fakeObjectAPI{putErr: errors.New("slow down")}
	sink := newTestArchive(client, Config{})

	err := sink.WriteOne(context.Background(), "event_logs", archiveRecord("a", "x"))
	if err == nil || !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestArchiveSink_ListArchives(t *testing.T) {
	older := time.Date(2026, 2, 7, 1, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 2, 7, 2, 0, 0, 0, time.UTC)
	size := int64(42)
	client := &fakeObjectAPI{objects: []types.Object{
		{Key: stringPointer("event_logs/2026/02/07/old.jsonl"), LastModified: &older, Size: &size},
		{Key: stringPointer(""), LastModified: &newer},
		{Key: stringPointer("event_logs/2026/02/07/new.jsonl"), LastModified: &newer, Size: &size},
	}}
	sink := newTestArchive(client, Config{})

	objects, err := sink.ListArchives(context.Background(), "event_logs", archiveNow, 500)
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}

	if *client.listed.Prefix != "event_logs/2026/02/07/" || *client.listed.MaxKeys != 200 {
		t.Fatalf("unexpected list input: prefix=%s max=%d", *client.listed.Prefix, *client.listed.MaxKeys)
	}
	if len(objects) != 2 {
		t.Fatalf("objects = %d, want 2", len(objects))
	}
	if objects[0].Key != "event_logs/2026/02/07/new.jsonl" {
		t.Fatalf("objects not sorted newest first: %+v", objects)
	}
	if objects[0].URL != "https://signed.example/event_logs/2026/02/07/new.jsonl" || objects[0].Size != 42 {
		t.Fatalf("unexpected object: %+v", objects[0])
	}
}

func TestArchiveSink_PublicURL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected string
	}{
		{
			name:     "virtual host",
			cfg:      Config{Endpoint: "https://storage.yandexcloud.net", URLMode: URLModePublic},
			expected: "https://events.storage.yandexcloud.net/event_logs/a%20b.jsonl",
		},
		{
			name:     "path style",
			cfg:      Config{Endpoint: "http://localhost:4566/", URLMode: URLModePublic, UsePathStyle: true},
			expected: "http://localhost:4566/events/event_logs/a%20b.jsonl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newTestArchive(&fakeObjectAPI{}, tt.cfg)
			got, err := sink.GetObjectURL(context.Background(), "event_logs/a b.jsonl")
			if err != nil {
				t.Fatalf("GetObjectURL() error = %v", err)
			}
			if got != tt.expected {
				t.Fatalf("GetObjectURL() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestArchiveSink_NotReady(t *testing.T) {
	var sink *ArchiveSink
	if err := sink.Ready(context.Background()); !errors.Is(err, port.ErrSinkNotInitialized) {
		t.Fatalf("nil sink Ready() = %v", err)
	}
}

func stringPointer(v string) *string {
	return &v
}
