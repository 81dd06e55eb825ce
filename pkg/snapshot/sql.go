package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// SQLStore is a SQL-backed snapshot store.
// It works with any database/sql compatible driver (SQLite, PostgreSQL, MySQL).
// Requires a table with schema:
//
//	CREATE TABLE replinet_snapshots (
//	    id VARCHAR(64) PRIMARY KEY,
//	    created_at BIGINT NOT NULL,
//	    entities INTEGER NOT NULL,
//	    size INTEGER NOT NULL,
//	    data BLOB NOT NULL
//	);
//
// CreateTable creates it.
type SQLStore struct {
	db        *sql.DB
	tableName string
	dialect   SQLDialect
	closed    atomic.Bool
}

// SQLDialect represents the SQL dialect for query generation.
type SQLDialect int

const (
	// DialectSQLite uses SQLite syntax (? placeholders).
	DialectSQLite SQLDialect = iota
	// DialectPostgreSQL uses PostgreSQL syntax ($1, $2 placeholders).
	DialectPostgreSQL
	// DialectMySQL uses MySQL syntax (? placeholders).
	DialectMySQL
)

// ParseDialect returns the dialect for a database/sql driver name.
func ParseDialect(driver string) (SQLDialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	case "postgres", "pgx":
		return DialectPostgreSQL, nil
	case "mysql":
		return DialectMySQL, nil
	default:
		return 0, fmt.Errorf("snapshot: unknown sql driver %q", driver)
	}
}

// SQLStoreOption configures SQLStore behavior.
type SQLStoreOption func(*sqlStoreConfig)

type sqlStoreConfig struct {
	tableName string
	dialect   SQLDialect
}

// WithSQLTableName sets the table name for snapshot storage.
// Default: "replinet_snapshots".
func WithSQLTableName(name string) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.tableName = name
	}
}

// WithSQLDialect sets the SQL dialect for query generation.
// Default: DialectSQLite.
func WithSQLDialect(dialect SQLDialect) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.dialect = dialect
	}
}

// NewSQLStore creates a new SQL-backed snapshot store.
func NewSQLStore(db *sql.DB, opts ...SQLStoreOption) *SQLStore {
	cfg := &sqlStoreConfig{
		tableName: "replinet_snapshots",
		dialect:   DialectSQLite,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &SQLStore{
		db:        db,
		tableName: cfg.tableName,
		dialect:   cfg.dialect,
	}
}

// placeholder returns the placeholder syntax for the dialect.
func (s *SQLStore) placeholder(n int) string {
	switch s.dialect {
	case DialectPostgreSQL:
		return fmt.Sprintf("$%d", n)
	default:
		return "?"
	}
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, snap *Snapshot) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	data, err := Encode(snap)
	if err != nil {
		return err
	}

	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`
			INSERT INTO %s (id, created_at, entities, size, data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				created_at = EXCLUDED.created_at,
				entities = EXCLUDED.entities,
				size = EXCLUDED.size,
				data = EXCLUDED.data
		`, s.tableName)
	case DialectMySQL:
		query = fmt.Sprintf(`
			INSERT INTO %s (id, created_at, entities, size, data)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				created_at = VALUES(created_at),
				entities = VALUES(entities),
				size = VALUES(size),
				data = VALUES(data)
		`, s.tableName)
	default:
		query = fmt.Sprintf(`
			INSERT OR REPLACE INTO %s (id, created_at, entities, size, data)
			VALUES (?, ?, ?, ?, ?)
		`, s.tableName)
	}

	_, err = s.db.ExecContext(ctx, query, snap.ID, snap.CreatedAt.UnixNano(), len(snap.Entities), len(data), data)
	if err != nil {
		return fmt.Errorf("snapshot: save %s: %w", snap.ID, err)
	}
	return nil
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = %s`, s.tableName, s.placeholder(1))

	var data []byte
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("snapshot: load %s: %w", id, err)
	}
	return Decode(data)
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context) ([]Info, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	query := fmt.Sprintf(`SELECT id, created_at, entities, size FROM %s ORDER BY id`, s.tableName)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		var createdAt int64
		if err := rows.Scan(&info.ID, &createdAt, &info.Entities, &info.Size); err != nil {
			return nil, fmt.Errorf("snapshot: list: %w", err)
		}
		info.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.tableName, s.placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("snapshot: delete %s: %w", id, err)
	}
	return nil
}

// Close implements Store.
// Note: This does not close the underlying database connection,
// as it may be shared with other components.
func (s *SQLStore) Close() error {
	s.closed.Store(true)
	return nil
}

// CreateTable creates the snapshot table if it doesn't exist.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(64) PRIMARY KEY,
				created_at BIGINT NOT NULL,
				entities INTEGER NOT NULL,
				size INTEGER NOT NULL,
				data BYTEA NOT NULL
			)
		`, s.tableName)
	case DialectMySQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(64) PRIMARY KEY,
				created_at BIGINT NOT NULL,
				entities INT NOT NULL,
				size INT NOT NULL,
				data LONGBLOB NOT NULL
			)
		`, s.tableName)
	default:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				created_at INTEGER NOT NULL,
				entities INTEGER NOT NULL,
				size INTEGER NOT NULL,
				data BLOB NOT NULL
			)
		`, s.tableName)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("snapshot: create table %s: %w", s.tableName, err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
