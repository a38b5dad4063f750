package eventlogger

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dreschagin/eventlogger/internal/domain/entity"
)

var errBoom = errors.New("boom")

type mockSink struct {
	mu sync.Mutex

	readyErr error
	// failures is the number of writes that fail before writes start to
	// succeed; a negative value fails every write.
	failures int
	writeErr error

	readyCalls int
	oneCalls   int
	batchCalls int
	singles    []*entity.Record
	batches    [][]*entity.Record

	// batchStarted and release let a test hold WriteBatch open.
	batchStarted chan struct{}
	release      chan struct{}
}

func (m *mockSink) Ready(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyCalls++
	return m.readyErr
}

func (m *mockSink) WriteOne(_ context.Context, _ string, record *entity.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oneCalls++
	if err := m.nextErr(); err != nil {
		return err
	}
	m.singles = append(m.singles, record)
	return nil
}

func (m *mockSink) WriteBatch(_ context.Context, _ string, records []*entity.Record) error {
	m.mu.Lock()
	started, release := m.batchStarted, m.release
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if err := m.nextErr(); err != nil {
		return err
	}
	m.batches = append(m.batches, append([]*entity.Record(nil), records...))
	return nil
}

func (m *mockSink) nextErr() error {
	if m.failures == 0 {
		return nil
	}
	if m.failures > 0 {
		m.failures--
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	return errBoom
}

func (m *mockSink) counts() (ready, one, batch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyCalls, m.oneCalls, m.batchCalls
}

func (m *mockSink) savedBatches() [][]*entity.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*entity.Record(nil), m.batches...)
}

type staticIdentity struct {
	id, email string
}

func (s staticIdentity) CurrentUserID() string    { return s.id }
func (s staticIdentity) CurrentUserEmail() string { return s.email }

type panickingIdentity struct{}

func (panickingIdentity) CurrentUserID() string    { panic("identity down") }
func (panickingIdentity) CurrentUserEmail() string { panic("identity down") }

// syncBuffer is a bytes.Buffer that is safe to read while the sink writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Lines() []string {
	out := bytes.Split(bytes.TrimSpace([]byte(b.String())), []byte("\n"))
	lines := make([]string, 0, len(out))
	for _, l := range out {
		if len(l) > 0 {
			lines = append(lines, string(l))
		}
	}
	return lines
}

type errorCall struct {
	eventName string
	message   string
}

type errorRecorder struct {
	mu    sync.Mutex
	calls []errorCall
}

func (r *errorRecorder) callback(eventName, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, errorCall{eventName: eventName, message: message})
}

func (r *errorRecorder) all() []errorCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]errorCall(nil), r.calls...)
}

func newTestLogger(t *testing.T, cfg Config, sink *mockSink) (*EventLogger, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	l := New(cfg, sink, Options{
		Identity: staticIdentity{id: "u-1", email: "u1@example.com"},
		Local:    NewLocalSink(out, nil),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Close(ctx)
	})
	return l, out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
