package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dreschagin/eventlogger/internal/domain/entity"
)

// EventDBModel представляет запись события в БД
type EventDBModel struct {
	ID         string
	EventName  string
	Level      string
	UserID     sql.NullString
	Fields     string // JSON
	ServerTime bool   // поле timestamp заполняет сама БД через NOW()
}

// ToDBModel конвертирует запись в DB Model.
// Маркер ServerTimestamp остается в JSON как строка и заменяется в SQL.
func ToDBModel(record *entity.Record) (*EventDBModel, error) {
	if record == nil || record.ID() == "" {
		return nil, fmt.Errorf("record id is required")
	}

	fields, err := json.Marshal(record.Fields())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}

	model := &EventDBModel{
		ID:         record.ID(),
		EventName:  record.Name(),
		Level:      record.Level().String(),
		Fields:     string(fields),
		ServerTime: record.HasServerTimestamp(),
	}

	if raw, ok := record.Field(entity.FieldUserID); ok {
		if userID, ok := raw.(string); ok && userID != "" {
			model.UserID = sql.NullString{String: userID, Valid: true}
		}
	}

	return model, nil
}

// StoredEvent строка таблицы событий после чтения
type StoredEvent struct {
	ID        string
	EventName string
	Level     string
	UserID    string
	Fields    map[string]interface{}
	CreatedAt time.Time
}

// ScanEventRow сканирует строку БД в StoredEvent
func ScanEventRow(row interface {
	Scan(dest ...interface{}) error
}) (*StoredEvent, error) {
	var event StoredEvent
	var userID sql.NullString
	var fields []byte

	if err := row.Scan(&event.ID, &event.EventName, &event.Level, &userID, &fields, &event.CreatedAt); err != nil {
		return nil, err
	}

	if userID.Valid {
		event.UserID = userID.String
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &event.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	}

	return &event, nil
}
