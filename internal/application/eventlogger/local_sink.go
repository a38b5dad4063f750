package eventlogger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
)

// localLine is the stable short-key shape of one local sink record.
type localLine struct {
	TS     string                 `json:"ts"`
	Lvl    string                 `json:"lvl"`
	Cat    string                 `json:"cat"`
	Evt    string                 `json:"evt"`
	Params map[string]interface{} `json:"params"`
	UID    string                 `json:"uid,omitempty"`
	Email  string                 `json:"email,omitempty"`
	Global map[string]interface{} `json:"global,omitempty"`
	Err    string                 `json:"err,omitempty"`
}

// LocalSink writes one JSON line per event to a local writer.
// Emit never returns an error and never panics.
type LocalSink struct {
	mu     sync.Mutex
	out    io.Writer
	mirror port.LineMirror
	now    func() time.Time
}

// NewLocalSink creates a sink writing to out (stdout when nil).
// mirror is optional and receives a copy of every emitted line.
func NewLocalSink(out io.Writer, mirror port.LineMirror) *LocalSink {
	if out == nil {
		out = os.Stdout
	}
	return &LocalSink{
		out:    out,
		mirror: mirror,
		now:    time.Now,
	}
}

// Emit writes the caller's view of the event. userIDOverride, when not empty,
// replaces the identity provider's user id.
func (s *LocalSink) Emit(cfg Config, event *entity.Event, identity port.IdentityProvider, userIDOverride string) {
	ts := s.now().UTC().Format(time.RFC3339)

	line, err := s.format(ts, cfg, event, identity, userIDOverride)
	if err != nil {
		line = fallbackLine(ts, cfg.Category(), event.Name(), err)
	}
	s.write(line)
}

func (s *LocalSink) format(ts string, cfg Config, event *entity.Event, identity port.IdentityProvider, userIDOverride string) (line []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			line, err = nil, fmt.Errorf("%w: %v", ErrLocalFormatFailed, r)
		}
	}()

	rec := localLine{
		TS:     ts,
		Lvl:    event.Level().String(),
		Cat:    cfg.Category(),
		Evt:    event.Name(),
		Params: event.Parameters(),
		Global: cfg.globalParameters,
	}
	if cfg.IncludeUserInfo() {
		rec.UID, rec.Email = resolveIdentity(identity)
		if userIDOverride != "" {
			rec.UID = userIDOverride
		}
	}

	line, err = json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalFormatFailed, err)
	}
	return line, nil
}

func fallbackLine(ts, category, name string, cause error) []byte {
	line, err := json.Marshal(localLine{
		TS:  ts,
		Lvl: "error",
		Cat: category,
		Evt: name,
		Err: cause.Error(),
	})
	if err != nil {
		return []byte(fmt.Sprintf(`{"ts":%q,"lvl":"error","err":%q}`, ts, ErrLocalFormatFailed.Error()))
	}
	return line
}

func (s *LocalSink) write(line []byte) {
	defer func() {
		_ = recover()
	}()

	s.mu.Lock()
	_, _ = s.out.Write(append(line, '\n'))
	s.mu.Unlock()

	if s.mirror != nil {
		s.mirror.BroadcastLine(line)
	}
}
