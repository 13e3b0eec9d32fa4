package testdb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/kuitang/ticketnotes/internal/db"
)

// testKey is a fixed SQLCipher key so the in-memory fixtures run through the
// same encrypted code path as production.
var testKey = strings.Repeat("ab", db.KeyLength)

var counter atomic.Int64

// NewStoreInMemory creates an isolated in-memory encrypted Store for tests.
//
// The pool is capped at one connection, so callers queue in database/sql and
// never contend inside SQLite. Tests that need real writer contention use
// NewStoreOnDisk.
func NewStoreInMemory(name string) (*db.Store, error) {
	if name == "" {
		name = "test"
	}
	name = fmt.Sprintf("%s-%d", name, counter.Add(1))

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma_key=x'%s'&_pragma_cipher_page_size=4096", name, testKey)

	sqlDB, err := sql.Open(db.SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	store := db.NewStoreFromSQL(sqlDB)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify in-memory database: %w", err)
	}

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize in-memory schema: %w", err)
	}

	return store, nil
}

// NewStoreOnDisk opens an encrypted file-backed Store in dir through db.Open,
// with the production pool size, WAL journal, busy timeout and immediate
// transactions.
func NewStoreOnDisk(ctx context.Context, dir string) (*db.Store, error) {
	key, err := hex.DecodeString(testKey)
	if err != nil {
		return nil, fmt.Errorf("decode test key: %w", err)
	}
	name := fmt.Sprintf("ondisk-%d.db", counter.Add(1))
	return db.Open(ctx, filepath.Join(dir, name), key)
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=OFF",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
