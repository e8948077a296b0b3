package loader

import (
	"context"
	"database/sql"
	stderrors "errors"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/wippyai/carrica/errors"
)

const schema = `CREATE TABLE IF NOT EXISTS modules (
	name TEXT PRIMARY KEY,
	source TEXT NOT NULL
)`

// SQLStore keeps module sources in a sqlite database.
type SQLStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// OpenStore opens or creates the module store at path. Use ":memory:" for
// a private in-memory store.
func OpenStore(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Load("open module store "+path, err)
	}
	// an in-memory database lives as long as its single connection
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Load("configure module store", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Load("create modules table", err)
	}
	return &SQLStore{db: db, path: path}, nil
}

// Path returns the database path the store was opened with.
func (s *SQLStore) Path() string { return s.path }

// Put inserts or replaces a module.
func (s *SQLStore) Put(ctx context.Context, name, source string) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseLoad, "module name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO modules (name, source) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET source = excluded.source`, name, source)
	if err != nil {
		return errors.Load("store module "+name, err)
	}
	return nil
}

// Get returns a module's source or ErrModuleNotFound.
func (s *SQLStore) Get(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var src string
	err := s.db.QueryRowContext(ctx, `SELECT source FROM modules WHERE name = ?`, name).Scan(&src)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", ErrModuleNotFound
	}
	if err != nil {
		return "", errors.Load("query module "+name, err)
	}
	return src, nil
}

// Delete removes a module. Missing modules are ignored.
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM modules WHERE name = ?`, name); err != nil {
		return errors.Load("delete module "+name, err)
	}
	return nil
}

// Names lists the stored module names in order.
func (s *SQLStore) Names(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM modules ORDER BY name`)
	if err != nil {
		return nil, errors.Load("list modules", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errors.Load("list modules", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Func returns a loader reading from the store. Guest imports carry no
// context, so lookups use context.Background.
func (s *SQLStore) Func() Func {
	return func(name string) (string, error) {
		return s.Get(context.Background(), name)
	}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
