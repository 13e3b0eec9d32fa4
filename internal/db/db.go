package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDatabasePath is the default location of the notes database file
	DefaultDatabasePath = "./data/notes.db"

	// DefaultSequenceStart is the first value handed out for a fresh sequence namespace.
	DefaultSequenceStart int64 = 500

	// MaxOpenConns is the maximum number of open connections.
	// SQLite is single-writer, so high connection counts are counterproductive.
	MaxOpenConns = 10

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns = 2

	// KeyLength is the SQLCipher raw key size in bytes.
	KeyLength = 32
)

// Store wraps the sql.DB connection holding the users, notes and counters tables.
// It is the document store behind the notes and users services: every method
// is a single-row atomic operation, there is no cross-table transaction.
type Store struct {
	db            *sql.DB
	sequenceStart int64
}

// NewStoreFromSQL wraps an existing sql.DB as Store. The schema is not applied.
func NewStoreFromSQL(sqlDB *sql.DB) *Store {
	return &Store{
		db:            sqlDB,
		sequenceStart: DefaultSequenceStart,
	}
}

// SetSequenceStart changes the value a namespace starts at when it is first used.
// Namespaces that already have a persisted counter are not affected.
func (s *Store) SetSequenceStart(start int64) {
	s.sequenceStart = start
}

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Ping verifies the connection (and the encryption key, when one is set).
func (s *Store) Ping(ctx context.Context) error {
	var sqliteVersion string
	if err := s.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}
	return nil
}

// Open opens (creating if needed) the notes database at path.
// A non-empty key encrypts the file with SQLCipher; it must be exactly 32 bytes.
//
// Returns:
//   - *Store: Database wrapper with the schema applied
//   - error: Any error encountered during initialization
func Open(ctx context.Context, path string, key []byte) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if len(key) != 0 && len(key) != KeyLength {
		return nil, fmt.Errorf("database key must be exactly %d bytes, got %d", KeyLength, len(key))
	}

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := path
	if len(key) > 0 {
		// Format: file.db?_pragma_key=x'HEX_KEY'&_pragma_cipher_page_size=4096
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, hex.EncodeToString(key))
	}
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	store := NewStoreFromSQL(sqlDB)

	// If the encryption key is wrong, this will fail
	if err := store.Ping(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the Store connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func sqliteCommonParams() string {
	// Production-safe defaults: WAL + NORMAL provides good throughput while preserving safety.
	// busy_timeout bounds how long a writer waits for the lock before failing.
	// Immediate transactions take the write lock at BEGIN, so a sequence
	// transaction never has to upgrade a read lock under contention.
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
