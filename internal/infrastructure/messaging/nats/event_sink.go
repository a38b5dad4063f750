package nats

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
	"github.com/dreschagin/eventlogger/pkg/logger"
	"github.com/nats-io/nats.go"
)

// Config задает подключение к NATS JetStream
type Config struct {
	URL           string
	SubjectPrefix string // сообщения уходят в <prefix>.<collection>
	Stream        string // создается при старте, если задан и отсутствует
}

type publisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// envelope одно сообщение JetStream: весь пакет целиком
type envelope struct {
	Collection string          `json:"collection"`
	SentAt     time.Time       `json:"sent_at"`
	Records    []envelopeEntry `json:"records"`
}

type envelopeEntry struct {
	ID     string                 `json:"id"`
	Event  string                 `json:"event"`
	Level  string                 `json:"level"`
	Fields map[string]interface{} `json:"fields"`
}

// EventSink implements RemoteSink for NATS JetStream.
// Один пакет публикуется одним сообщением, поэтому доставка атомарна,
// а заголовок Nats-Msg-Id отсекает дубликаты при повторной отправке.
type EventSink struct {
	nc        *nats.Conn
	js        publisher
	prefix    string
	connected func() bool
	logger    *logger.Logger
	now       func() time.Time
}

// NewEventSink creates a new NATS JetStream sink
func NewEventSink(cfg Config, log *logger.Logger) (*EventSink, error) {
	if log == nil {
		log = logger.Nop()
	}

	// Connect to NATS with retry
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// Get JetStream context
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	prefix := normalizePrefix(cfg.SubjectPrefix)
	if cfg.Stream != "" {
		if err := ensureStream(js, cfg.Stream, prefix); err != nil {
			nc.Close()
			return nil, err
		}
	}

	log.Info("Connected to NATS", "url", cfg.URL, "subject_prefix", prefix)

	s := newEventSink(js, prefix, log)
	s.nc = nc
	s.connected = nc.IsConnected
	return s, nil
}

func newEventSink(js publisher, prefix string, log *logger.Logger) *EventSink {
	if log == nil {
		log = logger.Nop()
	}
	return &EventSink{
		js:        js,
		prefix:    normalizePrefix(prefix),
		connected: func() bool { return true },
		logger:    log,
		now:       time.Now,
	}
}

func ensureStream(js nats.JetStreamContext, stream, prefix string) error {
	_, err := js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", stream, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       stream,
		Subjects:   []string{prefix + ".>"},
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", stream, err)
	}
	return nil
}

func (s *EventSink) Ready(context.Context) error {
	if s == nil || s.js == nil {
		return fmt.Errorf("nats jetstream: %w", port.ErrSinkNotInitialized)
	}
	if !s.connected() {
		return fmt.Errorf("nats connection is down: %w", port.ErrSinkNotInitialized)
	}
	return nil
}

func (s *EventSink) WriteOne(ctx context.Context, collection string, record *entity.Record) error {
	return s.WriteBatch(ctx, collection, []*entity.Record{record})
}

// WriteBatch публикует пакет синхронно и ждет подтверждения JetStream
func (s *EventSink) WriteBatch(ctx context.Context, collection string, records []*entity.Record) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	subject, err := s.subject(collection)
	if err != nil {
		return err
	}

	msg, err := buildMessage(subject, collection, records, s.now())
	if err != nil {
		return err
	}

	ack, err := s.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		s.logger.Error("Failed to publish events", err,
			"subject", subject,
		)
		return fmt.Errorf("failed to publish events: %w", err)
	}

	s.logger.Debug("Events published",
		"subject", subject,
		"records", len(records),
		"duplicate", ack != nil && ack.Duplicate,
	)

	return nil
}

// Close closes the NATS connection
func (s *EventSink) Close() error {
	if s.nc != nil {
		s.logger.Info("Closing NATS connection")
		s.nc.Close()
	}
	return nil
}

func (s *EventSink) subject(collection string) (string, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" || strings.ContainsAny(collection, ".*> \t") {
		return "", fmt.Errorf("invalid collection for subject %q", collection)
	}
	return s.prefix + "." + collection, nil
}

func buildMessage(subject, collection string, records []*entity.Record, now time.Time) (*nats.Msg, error) {
	body := envelope{
		Collection: collection,
		SentAt:     now.UTC(),
		Records:    make([]envelopeEntry, 0, len(records)),
	}
	for _, record := range records {
		body.Records = append(body.Records, envelopeEntry{
			ID:     record.ID(),
			Event:  record.Name(),
			Level:  record.Level().String(),
			Fields: record.Resolve(now),
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal events: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, messageID(records))
	msg.Header.Set("Content-Type", "application/json")
	return msg, nil
}

// messageID совпадает для одного и того же набора записей
func messageID(records []*entity.Record) string {
	if len(records) == 1 {
		return records[0].ID()
	}

	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID())
	}
	sort.Strings(ids)

	sum := sha1.Sum([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:])
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return "events"
	}
	return prefix
}
