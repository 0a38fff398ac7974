package params

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the durable parameter store, adapted from the teacher's
// storage.Storage: a single-writer SQLite connection in WAL mode, the
// concrete fulfillment of spec.md §3's "persistent mapping from (TxID,
// SubTxID, ParamID) to a typed value."
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// SQLiteConfig configures SQLiteStore.
type SQLiteConfig struct {
	DataDir string
}

// NewSQLiteStore opens (creating if necessary) the parameter database.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("params: create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "locktx.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("params: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("params: ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("params: init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS tx_params (
		tx_id     BLOB NOT NULL,
		sub_tx_id INTEGER NOT NULL,
		param_id  INTEGER NOT NULL,
		value     BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tx_id, sub_tx_id, param_id)
	);
	CREATE INDEX IF NOT EXISTS idx_tx_params_tx ON tx_params(tx_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *SQLiteStore) Get(txID TxID, sub SubTxID, id ParamID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRow(
		`SELECT value FROM tx_params WHERE tx_id = ? AND sub_tx_id = ? AND param_id = ?`,
		txID[:], int32(sub), int32(id),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("params: get %s/%d: %w", sub, id, err)
	}
	return value, true, nil
}

// Set implements Store. It upserts durably; no parameter is ever deleted
// (spec.md §7's append-only-in-practice requirement).
func (s *SQLiteStore) Set(txID TxID, sub SubTxID, id ParamID, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO tx_params (tx_id, sub_tx_id, param_id, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tx_id, sub_tx_id, param_id) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, txID[:], int32(sub), int32(id), value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("params: set %s/%d: %w", sub, id, err)
	}
	return nil
}
