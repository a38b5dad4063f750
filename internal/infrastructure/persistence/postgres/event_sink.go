package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/lib/pq"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PostgresEventSink реализует port.RemoteSink для PostgreSQL.
// Коллекция соответствует таблице.
type PostgresEventSink struct {
	db *sql.DB
}

// NewPostgresEventSink создает новый PostgreSQL sink
func NewPostgresEventSink(db *sql.DB) *PostgresEventSink {
	return &PostgresEventSink{
		db: db,
	}
}

// Ready проверяет, что подключение передано
func (s *PostgresEventSink) Ready(context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres connection: %w", port.ErrSinkNotInitialized)
	}
	return nil
}

// EnsureSchema создает таблицу коллекции, если ее нет
func (s *PostgresEventSink) EnsureSchema(ctx context.Context, collection string) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	query, err := schemaQuery(collection)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", collection, err)
	}
	return nil
}

// WriteOne сохраняет одну запись. Повторная вставка с тем же id игнорируется.
func (s *PostgresEventSink) WriteOne(ctx context.Context, collection string, record *entity.Record) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	query, err := insertQuery(collection)
	if err != nil {
		return err
	}

	model, err := ToDBModel(record)
	if err != nil {
		return fmt.Errorf("failed to convert to DB model: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, insertArgs(model)...); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// WriteBatch сохраняет записи одной транзакцией
func (s *PostgresEventSink) WriteBatch(ctx context.Context, collection string, records []*entity.Record) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	query, err := insertQuery(collection)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		model, err := ToDBModel(record)
		if err != nil {
			return fmt.Errorf("failed to convert event to DB model: %w", err)
		}

		if _, err := stmt.ExecContext(ctx, insertArgs(model)...); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", model.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// FindRecent возвращает последние события коллекции
func (s *PostgresEventSink) FindRecent(ctx context.Context, collection string, limit int) ([]*StoredEvent, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	table, err := quoteTable(collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, event_name, level, user_id, fields, created_at
		FROM %s
		ORDER BY created_at DESC
		LIMIT $1
	`, table)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]*StoredEvent, 0, limit)
	for rows.Next() {
		event, err := ScanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

func quoteTable(collection string) (string, error) {
	if !tableNamePattern.MatchString(collection) {
		return "", fmt.Errorf("invalid table name %q", collection)
	}
	return pq.QuoteIdentifier(collection), nil
}

// insertQuery подставляет время БД в поле timestamp, если запись его ждет
func insertQuery(collection string) (string, error) {
	table, err := quoteTable(collection)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`
		INSERT INTO %s (id, event_name, level, user_id, fields, created_at)
		VALUES (
			$1, $2, $3, $4,
			CASE WHEN $6 THEN jsonb_set($5::jsonb, '{timestamp}', to_jsonb(NOW())) ELSE $5::jsonb END,
			NOW()
		)
		ON CONFLICT (id) DO NOTHING
	`, table), nil
}

func insertArgs(model *EventDBModel) []interface{} {
	return []interface{}{
		model.ID,
		model.EventName,
		model.Level,
		model.UserID,
		model.Fields,
		model.ServerTime,
	}
}

func schemaQuery(collection string) (string, error) {
	table, err := quoteTable(collection)
	if err != nil {
		return "", err
	}
	index := pq.QuoteIdentifier("idx_" + collection + "_name_created")

	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			event_name TEXT NOT NULL,
			level      TEXT NOT NULL,
			user_id    TEXT,
			fields     JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS %s ON %s (event_name, created_at DESC);
	`, table, index, table), nil
}
