package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ZentaChain/zentalk-peer/pkg/peers"
)

// SQLiteVault keeps the encrypted store in a single-row SQLite table
type SQLiteVault struct {
	db *sql.DB
	sealer
}

// NewSQLiteVault opens or creates the database at dbPath
func NewSQLiteVault(dbPath string, iterations int) (*SQLiteVault, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	v := &SQLiteVault{db: db, sealer: newSealer(iterations)}
	if err := v.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return v, nil
}

func (v *SQLiteVault) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vault (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		blob BLOB NOT NULL,
		version TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := v.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}
	return nil
}

// Load reads and decrypts the stored blob
func (v *SQLiteVault) Load(secret string) (*peers.Store, error) {
	var blob []byte
	err := v.db.QueryRow(`SELECT blob FROM vault WHERE id = 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query vault: %w", err)
	}
	return v.open(blob, secret)
}

// Save encrypts the store and upserts the single vault row
func (v *SQLiteVault) Save(store *peers.Store, secret string) error {
	blob, err := v.seal(store, secret)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO vault (id, blob, version, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			blob = excluded.blob,
			version = excluded.version,
			updated_at = excluded.updated_at
	`
	if _, err := v.db.Exec(query, blob, peers.SnapshotVersion, time.Now().Unix()); err != nil {
		return fmt.Errorf("save vault: %w", err)
	}
	return nil
}

// UpdatedAt returns when the vault was last saved
func (v *SQLiteVault) UpdatedAt() (time.Time, error) {
	var ts int64
	err := v.db.QueryRow(`SELECT updated_at FROM vault WHERE id = 1`).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(ts, 0), nil
}

// Close closes the database connection
func (v *SQLiteVault) Close() error {
	return v.db.Close()
}
