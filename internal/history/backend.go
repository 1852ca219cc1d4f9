package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/comigor/lana-go/internal/config"
	"github.com/comigor/lana-go/internal/logger"
)

// Backend is a durable key-value store holding serialized conversations.
type Backend interface {
	// Get returns the value stored under key; ok is false when the key is absent.
	Get(key string) (value []byte, ok bool, err error)
	// Set overwrites the value stored under key.
	Set(key string, value []byte) error
	Close() error
}

// OpenBackend opens the backend selected by cfg.Driver. If the sqlite database
// cannot be opened the store falls back to memory, and history is lost on exit.
func OpenBackend(cfg config.StorageConfig) (Backend, error) {
	switch cfg.Driver {
	case "", "sqlite":
		b, err := NewSQLiteBackend(cfg.Path)
		if err != nil {
			logger.L.Warn().Err(err).Str("path", cfg.Path).Msg("sqlite open failed; using in-memory history")
			return NewMemoryBackend(), nil
		}
		return b, nil
	case "bolt":
		return NewBoltBackend(cfg.Path)
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, errors.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// MemoryBackend keeps values in a map. It is the fallback when no durable
// backend is available.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: map[string][]byte{}}
}

func (m *MemoryBackend) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryBackend) Set(key string, value []byte) error {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// SQLiteBackend stores values in a single kv table.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if needed) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		path = "history.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create sqlite directory")
		}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
        key TEXT PRIMARY KEY,
        value BLOB NOT NULL,
        updated_at DATETIME
    );`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create kv table")
	}
	logger.L.Info().Str("path", path).Msg("sqlite history DB initialized")
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Get(key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?;`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "read key %q", key)
	}
	return v, true, nil
}

func (s *SQLiteBackend) Set(key string, value []byte) error {
	_, err := s.db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?,?,?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`,
		key, value, time.Now().UTC())
	return errors.Wrapf(err, "write key %q", key)
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

var boltBucket = []byte("lana")

// BoltBackend stores values in one bbolt bucket.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (creating if needed) the bolt file at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if path == "" {
		path = "history.bolt"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create bolt directory")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(boltBucket)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create bolt bucket")
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get([]byte(key))
		if v != nil {
			// v is only valid for the life of the transaction
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "read key %q", key)
	}
	return out, out != nil, nil
}

func (b *BoltBackend) Set(key string, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), value)
	})
	return errors.Wrapf(err, "write key %q", key)
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
