// Package store provides storage backends for Akasha.
//
// It persists generated passages, the daily-send ledger that keeps the
// passage broadcast idempotent across restarts, and an audit log of outbound
// messages. Backends: in-memory (default, tests), SQLite, and PostgreSQL.
package store

import (
	"log/slog"
	"strings"

	"github.com/BTreeMap/Akasha/internal/models"
)

// DefaultRecentMessages is how many audit log entries RecentMessages
// returns when the caller does not specify a limit.
const DefaultRecentMessages = 50

// Store is the persistence surface Akasha needs.
type Store interface {
	// SavePassage stores a generated passage.
	SavePassage(p models.Passage) error

	// PassageByDate returns the most recent passage generated for a date
	// (YYYY-MM-DD), or nil when none exists.
	PassageByDate(date string) (*models.Passage, error)

	// RecordPassageSend marks a (date, recipient) pair as sent. Returns false
	// when the pair was already recorded.
	RecordPassageSend(date, recipient string) (bool, error)

	// PassageSentTo reports whether a recipient already received the passage
	// for a date.
	PassageSentTo(date, recipient string) (bool, error)

	// LogMessage appends one outbound message to the audit log.
	LogMessage(m models.MessageLog) error

	// RecentMessages returns the newest audit log entries, most recent first.
	RecentMessages(limit int) ([]models.MessageLog, error)

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for building a store.
type Opts struct {
	DSN  string // database connection string or file path
	Type string // "sqlite" or "postgres"; detected from DSN when empty
}

// Option defines a configuration option for building a store.
type Option func(*Opts)

// WithSQLiteDSN configures an SQLite store at the given file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = "sqlite"
	}
}

// WithPostgresDSN configures a PostgreSQL store with the given DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = "postgres"
	}
}

// DetectDSNType reports "postgres" for PostgreSQL-looking DSNs and "sqlite"
// for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore builds a store from the provided options: PostgreSQL or SQLite
// when a DSN is configured, the in-memory store otherwise.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.DSN == "" {
		slog.Debug("store.NewStore: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}

	dsnType := cfg.Type
	if dsnType == "" {
		dsnType = DetectDSNType(cfg.DSN)
	}
	if dsnType == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}
