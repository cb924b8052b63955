package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLiteBackend stores entries in a single table of a local SQLite file.
// Its change feed only covers writes made through this backend value;
// other processes sharing the file are not observed.
type SQLiteBackend struct {
	db   *sql.DB
	path string
	feed fanout
}

var (
	_ Backend = (*SQLiteBackend)(nil)
	_ Watcher = (*SQLiteBackend)(nil)
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS entries (
	namespace     TEXT NOT NULL,
	entity_id     TEXT NOT NULL,
	key           TEXT NOT NULL,
	value         BLOB NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (namespace, entity_id, key)
)`

// NewSQLiteBackend opens (creating if needed) the database at path and
// ensures the entries table exists.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		path = "parley.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !os.IsExist(err) {
		return nil, errors.Wrap(err, "create dirs")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// A single connection keeps writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create entries table")
	}
	return &SQLiteBackend{db: db, path: path}, nil
}

// Read implements Backend.
func (b *SQLiteBackend) Read(ctx context.Context, namespace, entityID, key string) ([]byte, bool, error) {
	var raw []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM entries WHERE namespace = ? AND entity_id = ? AND key = ?`,
		namespace, entityID, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select entry")
	}
	return raw, true, nil
}

// Write implements Backend.
func (b *SQLiteBackend) Write(ctx context.Context, namespace, entityID, key string, raw []byte) error {
	now := time.Now().UnixMilli()
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO entries(namespace, entity_id, key, value, updated_at_ms) VALUES(?,?,?,?,?)
		 ON CONFLICT(namespace, entity_id, key) DO UPDATE SET value=excluded.value, updated_at_ms=excluded.updated_at_ms`,
		namespace, entityID, key, raw, now); err != nil {
		return errors.Wrapf(err, "upsert %s/%s/%s", namespace, entityID, key)
	}
	b.feed.publish(&ChangeEvent{Namespace: namespace, EntityID: entityID, Key: key, Value: copyBytes(raw), AtMs: now})
	return nil
}

// Delete implements Backend.
func (b *SQLiteBackend) Delete(ctx context.Context, namespace, entityID, key string) error {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM entries WHERE namespace = ? AND entity_id = ? AND key = ?`,
		namespace, entityID, key)
	if err != nil {
		return errors.Wrapf(err, "delete %s/%s/%s", namespace, entityID, key)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		b.feed.publish(&ChangeEvent{Namespace: namespace, EntityID: entityID, Key: key, Deleted: true, AtMs: time.Now().UnixMilli()})
	}
	return nil
}

// Watch implements Watcher for writes made through b.
func (b *SQLiteBackend) Watch(ctx context.Context) (*Subscription, error) {
	return b.feed.watch(ctx), nil
}

// Close closes active subscriptions and the database.
func (b *SQLiteBackend) Close() error {
	b.feed.close()
	return b.db.Close()
}

// Ping verifies the database file is usable.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (b *SQLiteBackend) DB() *sql.DB { return b.db }

// Path returns the configured database path.
func (b *SQLiteBackend) Path() string { return b.path }
