// Package crypto derives the SQLCipher database key from the configured
// master key using HKDF-SHA256.
package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeySize is the minimum master key size in bytes (256 bits).
	MasterKeySize = 32

	// DatabaseKeySize is the size of a derived database key in bytes.
	DatabaseKeySize = 32

	// NotesDatabasePurpose labels the key of the notes database.
	NotesDatabasePurpose = "notes-db"
)

// DeriveDatabaseKey derives a database key from masterKey. purpose and
// version are mixed into the HKDF info, so each database and each key
// version gets an independent key:
// info = "ticketnotes:" + purpose + ":v" + version
//
// A nil masterKey yields a nil key (an unencrypted database).
func DeriveDatabaseKey(masterKey []byte, purpose string, version int) ([]byte, error) {
	if masterKey == nil {
		return nil, nil
	}
	if len(masterKey) < MasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	if purpose == "" {
		return nil, fmt.Errorf("key purpose cannot be empty")
	}
	if version < 1 {
		return nil, fmt.Errorf("key version must be positive, got %d", version)
	}

	info := fmt.Sprintf("ticketnotes:%s:v%d", purpose, version)
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))

	key := make([]byte, DatabaseKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}
