// Package store provides storage backends for Akasha.
//
// This file implements a PostgreSQL-backed store for passages, the
// daily-send ledger, and the outbound message log.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/Akasha/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SavePassage(p models.Passage) error {
	_, err := s.db.Exec(`INSERT INTO passages (id, date, topic, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Date, p.Topic, p.Content, p.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SavePassage failed", "error", err, "date", p.Date)
		return fmt.Errorf("failed to insert passage for %s: %w", p.Date, err)
	}
	slog.Debug("PostgresStore SavePassage succeeded", "date", p.Date, "topic", p.Topic)
	return nil
}

func (s *PostgresStore) PassageByDate(date string) (*models.Passage, error) {
	row := s.db.QueryRow(`SELECT id, date, topic, content, created_at FROM passages WHERE date = $1 ORDER BY created_at DESC LIMIT 1`, date)
	var p models.Passage
	if err := row.Scan(&p.ID, &p.Date, &p.Topic, &p.Content, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			slog.Debug("PostgresStore PassageByDate found no passage", "date", date)
			return nil, nil
		}
		slog.Error("PostgresStore PassageByDate failed", "error", err, "date", date)
		return nil, fmt.Errorf("failed to query passage for %s: %w", date, err)
	}
	slog.Debug("PostgresStore PassageByDate succeeded", "date", date, "topic", p.Topic)
	return &p, nil
}

func (s *PostgresStore) RecordPassageSend(date, recipient string) (bool, error) {
	res, err := s.db.Exec(`INSERT INTO passage_sends (date, recipient, sent_at) VALUES ($1, $2, NOW()) ON CONFLICT (date, recipient) DO NOTHING`, date, recipient)
	if err != nil {
		slog.Error("PostgresStore RecordPassageSend failed", "error", err, "date", date, "recipient", recipient)
		return false, fmt.Errorf("failed to record passage send for %s: %w", recipient, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		slog.Error("PostgresStore RecordPassageSend rows affected failed", "error", err)
		return false, fmt.Errorf("failed to check passage send insert: %w", err)
	}
	recorded := affected > 0
	slog.Debug("PostgresStore RecordPassageSend succeeded", "date", date, "recipient", recipient, "recorded", recorded)
	return recorded, nil
}

func (s *PostgresStore) PassageSentTo(date, recipient string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM passage_sends WHERE date = $1 AND recipient = $2`, date, recipient).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore PassageSentTo failed", "error", err, "date", date, "recipient", recipient)
		return false, fmt.Errorf("failed to query passage send for %s: %w", recipient, err)
	}
	return count > 0, nil
}

func (s *PostgresStore) LogMessage(m models.MessageLog) error {
	_, err := s.db.Exec(`INSERT INTO message_log (id, recipient, body, reply_to, kind, sent_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Recipient, m.Body, m.ReplyTo, string(m.Kind), m.SentAt)
	if err != nil {
		slog.Error("PostgresStore LogMessage failed", "error", err, "recipient", m.Recipient)
		return fmt.Errorf("failed to insert message log for %s: %w", m.Recipient, err)
	}
	slog.Debug("PostgresStore LogMessage succeeded", "recipient", m.Recipient, "kind", m.Kind)
	return nil
}

func (s *PostgresStore) RecentMessages(limit int) ([]models.MessageLog, error) {
	if limit <= 0 {
		limit = DefaultRecentMessages
	}
	rows, err := s.db.Query(`SELECT id, recipient, body, reply_to, kind, sent_at FROM message_log ORDER BY sent_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		slog.Error("PostgresStore RecentMessages query failed", "error", err)
		return nil, fmt.Errorf("failed to query message log: %w", err)
	}
	defer rows.Close()

	var messages []models.MessageLog
	for rows.Next() {
		var m models.MessageLog
		var kind string
		if err := rows.Scan(&m.ID, &m.Recipient, &m.Body, &m.ReplyTo, &kind, &m.SentAt); err != nil {
			slog.Error("PostgresStore RecentMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message log row: %w", err)
		}
		m.Kind = models.MessageLogKind(kind)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore RecentMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message log rows: %w", err)
	}
	slog.Debug("PostgresStore RecentMessages succeeded", "count", len(messages))
	return messages, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres store")
	return s.db.Close()
}
