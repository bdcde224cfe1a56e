package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loganmhb/cliodb/datalog"
)

// PostgresStore implements Store on a single PostgreSQL table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and creates the blocks table if needed
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	cfg.MaxConns = 16
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, datalog.StorageError("create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, datalog.StorageError("database unreachable", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cliodb_blocks (
			key   TEXT COLLATE "C" PRIMARY KEY,
			value BYTEA NOT NULL
		)`)
	if err != nil {
		return datalog.StorageError("migrate", err)
	}
	return nil
}

// Get reads the value at key
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM cliodb_blocks WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, datalog.StorageError(fmt.Sprintf("get %s", key), err)
	}
	return value, nil
}

// Put upserts the value at key
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cliodb_blocks (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return datalog.StorageError(fmt.Sprintf("put %s", key), err)
	}
	return nil
}

// Scan streams rows with the given key prefix in key order
func (s *PostgresStore) Scan(ctx context.Context, prefix, start string) (Iterator, error) {
	if start < prefix {
		start = prefix
	}
	rows, err := s.pool.Query(ctx, `
		SELECT key, value FROM cliodb_blocks
		WHERE key >= $1 AND starts_with(key, $2)
		ORDER BY key`, start, prefix)
	if err != nil {
		return nil, datalog.StorageError(fmt.Sprintf("scan %s", prefix), err)
	}
	return &pgIterator{rows: rows}, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgIterator struct {
	rows  pgx.Rows
	key   string
	value []byte
	err   error
}

func (it *pgIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	if err := it.rows.Scan(&it.key, &it.value); err != nil {
		it.err = datalog.StorageError("scan row", err)
		return false
	}
	return true
}

func (it *pgIterator) Key() string   { return it.key }
func (it *pgIterator) Value() []byte { return it.value }

func (it *pgIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if err := it.rows.Err(); err != nil {
		return datalog.StorageError("scan rows", err)
	}
	return nil
}

func (it *pgIterator) Close() error {
	it.rows.Close()
	return nil
}
