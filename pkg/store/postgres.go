package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// maxNotifyPayload stays under the 8000 byte NOTIFY limit. Events that would
// exceed it are sent without their value.
const maxNotifyPayload = 7900

const postgresSchema = `CREATE TABLE IF NOT EXISTS parley_entries (
	namespace     TEXT NOT NULL,
	entity_id     TEXT NOT NULL,
	key           TEXT NOT NULL,
	value         BYTEA NOT NULL,
	updated_at_ms BIGINT NOT NULL,
	PRIMARY KEY (namespace, entity_id, key)
)`

// PostgresBackend stores entries in the parley_entries table and reports
// changes from every client of the database through LISTEN/NOTIFY.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

var (
	_ Backend = (*PostgresBackend)(nil)
	_ Watcher = (*PostgresBackend)(nil)
)

// NewPostgresBackend connects to dsn, verifies the connection and creates
// the entries table if it does not exist.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ensure entries table")
	}
	return &PostgresBackend{pool: pool}, nil
}

// Close closes every pooled connection.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

// Ping verifies database connectivity.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Pool exposes the underlying pool for integration testing hooks.
func (b *PostgresBackend) Pool() *pgxpool.Pool { return b.pool }

// Read implements Backend.
func (b *PostgresBackend) Read(ctx context.Context, namespace, entityID, key string) ([]byte, bool, error) {
	var raw []byte
	err := b.pool.QueryRow(ctx,
		`SELECT value FROM parley_entries WHERE namespace = $1 AND entity_id = $2 AND key = $3`,
		namespace, entityID, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select entry")
	}
	return raw, true, nil
}

// Write implements Backend. The upsert and its notification share one
// transaction, so listeners never hear about a write that did not commit.
func (b *PostgresBackend) Write(ctx context.Context, namespace, entityID, key string, raw []byte) error {
	now := time.Now().UnixMilli()
	payload, err := notifyPayload(&ChangeEvent{Namespace: namespace, EntityID: entityID, Key: key, Value: raw, AtMs: now})
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO parley_entries(namespace, entity_id, key, value, updated_at_ms) VALUES($1,$2,$3,$4,$5)
			 ON CONFLICT (namespace, entity_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at_ms = EXCLUDED.updated_at_ms`,
			namespace, entityID, key, raw, now); err != nil {
			return errors.Wrapf(err, "upsert %s/%s/%s", namespace, entityID, key)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, PostgresChannel, payload); err != nil {
			return errors.Wrap(err, "notify change")
		}
		return nil
	})
}

// Delete implements Backend.
func (b *PostgresBackend) Delete(ctx context.Context, namespace, entityID, key string) error {
	payload, err := notifyPayload(&ChangeEvent{Namespace: namespace, EntityID: entityID, Key: key, Deleted: true, AtMs: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM parley_entries WHERE namespace = $1 AND entity_id = $2 AND key = $3`,
			namespace, entityID, key)
		if err != nil {
			return errors.Wrapf(err, "delete %s/%s/%s", namespace, entityID, key)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, PostgresChannel, payload); err != nil {
			return errors.Wrap(err, "notify change")
		}
		return nil
	})
}

// Watch implements Watcher. A dedicated connection is taken out of the pool
// for the lifetime of the subscription. Watch returns once LISTEN has been
// issued, so every commit after that point is delivered.
func (b *PostgresBackend) Watch(ctx context.Context) (*Subscription, error) {
	pooled, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire listen connection")
	}
	if _, err := pooled.Exec(ctx, "LISTEN "+pgx.Identifier{PostgresChannel}.Sanitize()); err != nil {
		pooled.Release()
		return nil, errors.Wrapf(err, "listen %s", PostgresChannel)
	}
	conn := pooled.Hijack()

	eventsChan := make(chan *ChangeEvent, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = conn.Close(closeCtx)
		}()

		for {
			n, err := conn.WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				// The connection is unusable after a wait error.
				select {
				case errorsChan <- errors.Wrap(err, "wait for notification"):
				default:
				}
				return
			}

			ev, err := decodeEvent([]byte(n.Payload))
			if err != nil {
				select {
				case errorsChan <- err:
				case <-subCtx.Done():
					return
				}
				continue
			}

			select {
			case eventsChan <- ev:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return newSubscription(eventsChan, errorsChan, cancelFunc), nil
}

func notifyPayload(ev *ChangeEvent) (string, error) {
	payload, err := encodeEvent(ev)
	if err != nil {
		return "", err
	}
	if len(payload) > maxNotifyPayload {
		ev.Value = nil
		if payload, err = encodeEvent(ev); err != nil {
			return "", err
		}
	}
	return string(payload), nil
}
