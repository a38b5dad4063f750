package eventlogger

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dreschagin/eventlogger/internal/domain/entity"
	"github.com/dreschagin/eventlogger/internal/domain/valueobject"
)

type recordingMirror struct {
	mu    sync.Mutex
	lines []string
}

func (m *recordingMirror) BroadcastLine(line []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, string(line))
}

type panicMarshaler struct{}

func (panicMarshaler) MarshalJSON() ([]byte, error) { panic("bad marshaler") }

func newFixedSink(out *syncBuffer, mirror *recordingMirror) *LocalSink {
	var s *LocalSink
	if mirror != nil {
		s = NewLocalSink(out, mirror)
	} else {
		s = NewLocalSink(out, nil)
	}
	s.now = func() time.Time { return time.Date(2026, 5, 4, 3, 2, 1, 0, time.FixedZone("X", 3600)) }
	return s
}

func decodeLine(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("line is not JSON: %q: %v", line, err)
	}
	return m
}

func TestLocalSink_EmitFields(t *testing.T) {
	out := &syncBuffer{}
	sink := newFixedSink(out, nil)
	cfg := NewConfig(Overrides{
		GlobalParameters: map[string]interface{}{"env": "prod"},
		Category:         String("Checkout"),
	})

	sink.Emit(cfg, entity.NewEvent("paid", valueobject.LevelWarning, map[string]interface{}{"amount": 10}), staticIdentity{id: "u-1", email: "e@x"}, "")

	lines := out.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	got := decodeLine(t, lines[0])

	if got["ts"] != "2026-05-04T02:02:01Z" {
		t.Fatalf("ts = %v", got["ts"])
	}
	if got["lvl"] != "warning" || got["cat"] != "Checkout" || got["evt"] != "paid" {
		t.Fatalf("unexpected header fields: %v", got)
	}
	if got["uid"] != "u-1" || got["email"] != "e@x" {
		t.Fatalf("unexpected identity: %v", got)
	}
	params, _ := got["params"].(map[string]interface{})
	if params["amount"] != float64(10) {
		t.Fatalf("params = %v", got["params"])
	}
	if _, ok := params[entity.FieldEventName]; ok {
		t.Fatal("local params must not be enriched")
	}
	global, _ := got["global"].(map[string]interface{})
	if global["env"] != "prod" {
		t.Fatalf("global = %v", got["global"])
	}
}

func TestLocalSink_OptionalBlocks(t *testing.T) {
	out := &syncBuffer{}
	sink := newFixedSink(out, nil)
	cfg := NewConfig(Overrides{IncludeUserInfo: Bool(false)})

	sink.Emit(cfg, entity.NewEvent("e", valueobject.LevelInfo, nil), staticIdentity{id: "u-1"}, "override")

	got := decodeLine(t, out.Lines()[0])
	for _, key := range []string{"uid", "email", "global"} {
		if _, ok := got[key]; ok {
			t.Fatalf("%s must be omitted: %v", key, got)
		}
	}
	if _, ok := got["params"]; !ok {
		t.Fatal("params must always be present")
	}
}

func TestLocalSink_UserIDOverride(t *testing.T) {
	out := &syncBuffer{}
	sink := newFixedSink(out, nil)

	sink.Emit(DefaultConfig(), entity.NewEvent("e", valueobject.LevelInfo, nil), staticIdentity{id: "u-1", email: "e@x"}, "u-override")

	got := decodeLine(t, out.Lines()[0])
	if got["uid"] != "u-override" || got["email"] != "e@x" {
		t.Fatalf("unexpected identity: %v", got)
	}
}

func TestLocalSink_FormatFailureFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
	}{
		{name: "unsupported type", value: make(chan int)},
		{name: "panicking marshaler", value: panicMarshaler{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &syncBuffer{}
			sink := newFixedSink(out, nil)

			sink.Emit(DefaultConfig(), entity.NewEvent("broken", valueobject.LevelInfo, map[string]interface{}{"v": tt.value}), nil, "")

			lines := out.Lines()
			if len(lines) != 1 {
				t.Fatalf("expected one fallback line, got %d", len(lines))
			}
			got := decodeLine(t, lines[0])
			if got["lvl"] != "error" || got["evt"] != "broken" {
				t.Fatalf("unexpected fallback: %v", got)
			}
			msg, _ := got["err"].(string)
			if !strings.HasPrefix(msg, "local sink format failure") {
				t.Fatalf("unexpected err field: %q", msg)
			}
		})
	}
}

func TestLocalSink_Mirror(t *testing.T) {
	out := &syncBuffer{}
	mirror := &recordingMirror{}
	sink := newFixedSink(out, mirror)

	sink.Emit(DefaultConfig(), entity.NewEvent("e", valueobject.LevelInfo, nil), nil, "")

	if len(mirror.lines) != 1 {
		t.Fatalf("mirror lines = %d", len(mirror.lines))
	}
	if strings.TrimSpace(out.String()) != mirror.lines[0] {
		t.Fatalf("mirror got %q, writer got %q", mirror.lines[0], out.String())
	}
}
