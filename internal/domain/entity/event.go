package entity

import (
	"time"

	"github.com/dreschagin/eventlogger/internal/domain/valueobject"
	"github.com/google/uuid"
)

// Ключи полей, которые добавляет обогащение
const (
	FieldUserID    = "userId"
	FieldEmail     = "email"
	FieldLevel     = "level"
	FieldEventName = "event_name"
	FieldTimestamp = "timestamp"
)

// ServerTimestamp маркер времени, которое назначает удаленное хранилище.
// Каждый RemoteSink заменяет его своим временем записи.
type ServerTimestamp struct{}

// MarshalJSON позволяет сериализовать запись до подстановки времени
func (ServerTimestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"server_timestamp"`), nil
}

// Event представляет одно событие в том виде, в каком его передал вызывающий код
type Event struct {
	name       string
	level      valueobject.Level
	parameters map[string]interface{}
}

// NewEvent создает событие с копией параметров вызывающего кода
func NewEvent(name string, level valueobject.Level, parameters map[string]interface{}) *Event {
	return &Event{
		name:       name,
		level:      level,
		parameters: copyFields(parameters),
	}
}

// Name возвращает имя события
func (e *Event) Name() string {
	return e.name
}

// Level возвращает уровень события
func (e *Event) Level() valueobject.Level {
	return e.level
}

// Parameters возвращает копию параметров
func (e *Event) Parameters() map[string]interface{} {
	return copyFields(e.parameters)
}

// Record обогащенная неизменяемая запись, готовая к отправке в удаленное хранилище (Aggregate Root)
type Record struct {
	id     string
	name   string
	level  valueobject.Level
	fields map[string]interface{}
}

// NewRecord создает запись с новым ключом идемпотентности
func NewRecord(name string, level valueobject.Level, fields map[string]interface{}) *Record {
	return ReconstructRecord(uuid.New().String(), name, level, fields)
}

// ReconstructRecord восстанавливает запись с известным идентификатором
func ReconstructRecord(id, name string, level valueobject.Level, fields map[string]interface{}) *Record {
	return &Record{
		id:     id,
		name:   name,
		level:  level,
		fields: copyFields(fields),
	}
}

// ID возвращает ключ идемпотентности записи
func (r *Record) ID() string {
	return r.id
}

// Name возвращает имя события
func (r *Record) Name() string {
	return r.name
}

// Level возвращает уровень события
func (r *Record) Level() valueobject.Level {
	return r.level
}

// Fields возвращает копию полей записи
func (r *Record) Fields() map[string]interface{} {
	return copyFields(r.fields)
}

// Field возвращает одно поле
func (r *Record) Field(key string) (interface{}, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// HasServerTimestamp сообщает, ждет ли запись времени от хранилища
func (r *Record) HasServerTimestamp() bool {
	_, ok := r.fields[FieldTimestamp].(ServerTimestamp)
	return ok
}

// Resolve возвращает копию полей, в которой маркер ServerTimestamp заменен на now (UTC)
func (r *Record) Resolve(now time.Time) map[string]interface{} {
	fields := copyFields(r.fields)
	for key, value := range fields {
		if _, ok := value.(ServerTimestamp); ok {
			fields[key] = now.UTC().Format(time.RFC3339Nano)
		}
	}
	return fields
}

func copyFields(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
