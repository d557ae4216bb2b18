// Package sqlite implements the keyed record store on an embedded SQLite file.
//
// Each store is one table with an auto-increment integer key and a JSON body:
//
//	CREATE TABLE "<store>" (id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT NOT NULL)
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/kartikbazzad/bunbase/bunquery/storage"
	_ "modernc.org/sqlite"
)

// Store is a storage.ReadWriter backed by SQLite.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	tables map[string]bool // known to exist
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One connection: SQLite has a single writer.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}
	return &Store{db: db, tables: make(map[string]bool)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureTable(ctx context.Context, store string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[store] {
		return nil
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS "%s" (id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT NOT NULL)`, store))
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

	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, store).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup table %s: %w", store, err)
	}

	s.mu.Lock()
	s.tables[store] = true
	s.mu.Unlock()
	return true, nil
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

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO "%s" (body) VALUES (?)`, store), string(body))
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", store, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
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

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, body FROM "%s" ORDER BY id`, store))
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
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT body FROM "%s" WHERE id = ?`, store), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%d: %w", store, id, err)
	}
	return storage.DeserializeRecord([]byte(body), id)
}
