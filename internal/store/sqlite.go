// Package store provides storage backends for Akasha.
//
// This file implements an SQLite-backed store for passages, the daily-send
// ledger, and the outbound message log.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/Akasha/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SavePassage(p models.Passage) error {
	_, err := s.db.Exec(`INSERT INTO passages (id, date, topic, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Date, p.Topic, p.Content, p.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SavePassage failed", "error", err, "date", p.Date)
		return fmt.Errorf("failed to insert passage for %s: %w", p.Date, err)
	}
	slog.Debug("SQLiteStore SavePassage succeeded", "date", p.Date, "topic", p.Topic)
	return nil
}

func (s *SQLiteStore) PassageByDate(date string) (*models.Passage, error) {
	row := s.db.QueryRow(`SELECT id, date, topic, content, created_at FROM passages WHERE date = ? ORDER BY created_at DESC LIMIT 1`, date)
	var p models.Passage
	if err := row.Scan(&p.ID, &p.Date, &p.Topic, &p.Content, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			slog.Debug("SQLiteStore PassageByDate found no passage", "date", date)
			return nil, nil
		}
		slog.Error("SQLiteStore PassageByDate failed", "error", err, "date", date)
		return nil, fmt.Errorf("failed to query passage for %s: %w", date, err)
	}
	slog.Debug("SQLiteStore PassageByDate succeeded", "date", date, "topic", p.Topic)
	return &p, nil
}

func (s *SQLiteStore) RecordPassageSend(date, recipient string) (bool, error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO passage_sends (date, recipient, sent_at) VALUES (?, ?, CURRENT_TIMESTAMP)`, date, recipient)
	if err != nil {
		slog.Error("SQLiteStore RecordPassageSend failed", "error", err, "date", date, "recipient", recipient)
		return false, fmt.Errorf("failed to record passage send for %s: %w", recipient, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		slog.Error("SQLiteStore RecordPassageSend rows affected failed", "error", err)
		return false, fmt.Errorf("failed to check passage send insert: %w", err)
	}
	recorded := affected > 0
	slog.Debug("SQLiteStore RecordPassageSend succeeded", "date", date, "recipient", recipient, "recorded", recorded)
	return recorded, nil
}

func (s *SQLiteStore) PassageSentTo(date, recipient string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM passage_sends WHERE date = ? AND recipient = ?`, date, recipient).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore PassageSentTo failed", "error", err, "date", date, "recipient", recipient)
		return false, fmt.Errorf("failed to query passage send for %s: %w", recipient, err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) LogMessage(m models.MessageLog) error {
	_, err := s.db.Exec(`INSERT INTO message_log (id, recipient, body, reply_to, kind, sent_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Recipient, m.Body, m.ReplyTo, string(m.Kind), m.SentAt)
	if err != nil {
		slog.Error("SQLiteStore LogMessage failed", "error", err, "recipient", m.Recipient)
		return fmt.Errorf("failed to insert message log for %s: %w", m.Recipient, err)
	}
	slog.Debug("SQLiteStore LogMessage succeeded", "recipient", m.Recipient, "kind", m.Kind)
	return nil
}

func (s *SQLiteStore) RecentMessages(limit int) ([]models.MessageLog, error) {
	if limit <= 0 {
		limit = DefaultRecentMessages
	}
	rows, err := s.db.Query(`SELECT id, recipient, body, reply_to, kind, sent_at FROM message_log ORDER BY sent_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		slog.Error("SQLiteStore RecentMessages query failed", "error", err)
		return nil, fmt.Errorf("failed to query message log: %w", err)
	}
	defer rows.Close()

	var messages []models.MessageLog
	for rows.Next() {
		var m models.MessageLog
		var kind string
		if err := rows.Scan(&m.ID, &m.Recipient, &m.Body, &m.ReplyTo, &kind, &m.SentAt); err != nil {
			slog.Error("SQLiteStore RecentMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message log row: %w", err)
		}
		m.Kind = models.MessageLogKind(kind)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore RecentMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message log rows: %w", err)
	}
	slog.Debug("SQLiteStore RecentMessages succeeded", "count", len(messages))
	return messages, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite store")
	return s.db.Close()
}
