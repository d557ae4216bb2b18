// Package postgres implements the keyed record store on PostgreSQL.
//
// Each store is one table with a BIGSERIAL key and a JSONB body.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kartikbazzad/bunbase/bunquery/storage"
)

// Store is a storage.ReadWriter backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	tables map[string]bool
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, tables: make(map[string]bool)}, nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func table(store string) string {
	return pgx.Identifier{store}.Sanitize()
}

func (s *Store) ensureTable(ctx context.Context, store string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[store] {
		return nil
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id BIGSERIAL PRIMARY KEY, body JSONB NOT NULL)`, table(store)))
	if err != nil {
		return fmt.Errorf("create table %s: %w", store, err)
	}
	s.tables[store] = true
	return nil
}

func (s *Store) tableExists(ctx context.Context, store string) (bool, error) {
	s.mu.Lock()
	known := s.tables[store]
	s.mu.Unlock()
	if known {
		return true, nil
	}

	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table(store)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup table %s: %w", store, err)
	}
	if exists {
		s.mu.Lock()
		s.tables[store] = true
		s.mu.Unlock()
	}
	return exists, nil
}

// Insert writes rec and returns its new primary key.
func (s *Store) Insert(ctx context.Context, store string, rec storage.Record) (int64, error) {
	if err := storage.ValidateStoreName(store); err != nil {
		return 0, err
	}
	if _, ok := rec[storage.KeyField]; ok {
		return 0, storage.ErrKeyAssigned
	}
	if rec == nil {
		rec = storage.Record{}
	}
	body, err := rec.Serialize()
	if err != nil {
		return 0, err
	}
	if err := s.ensureTable(ctx, store); err != nil {
		return 0, err
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (body) VALUES ($1) RETURNING id`, table(store)), string(body)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", store, err)
	}
	return id, nil
}

// FetchAll returns every record of store in key order.
func (s *Store) FetchAll(ctx context.Context, store string) ([]storage.Record, error) {
	if err := storage.ValidateStoreName(store); err != nil {
		return nil, err
	}
	ok, err := s.tableExists(ctx, store)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []storage.Record{}, nil
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id, body::text FROM %s ORDER BY id`, table(store)))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", store, err)
	}
	defer rows.Close()

	out := make([]storage.Record, 0)
	for rows.Next() {
		var (
			id   int64
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", store, err)
		}
		rec, err := storage.DeserializeRecord([]byte(body), id)
		if err != nil {
			return nil, fmt.Errorf("%s/%d: %w", store, id, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", store, err)
	}
	return out, nil
}

// FetchByKey returns the record with id, or nil when absent.
func (s *Store) FetchByKey(ctx context.Context, store string, id int64) (storage.Record, error) {
	if err := storage.ValidateStoreName(store); err != nil {
		return nil, err
	}
	ok, err := s.tableExists(ctx, store)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var body string
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT body::text FROM %s WHERE id = $1`, table(store)), id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%d: %w", store, id, err)
	}
	return storage.DeserializeRecord([]byte(body), id)
}
