package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/iddaa-lens/edge/pkg/logger"
)

// SQLiteStore keeps each collection in its own table with JSON text payloads.
// It is used for single-node deployments and local runs.
type SQLiteStore struct {
	db     *sql.DB
	logger *logger.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the database file at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if !strings.HasPrefix(path, "file:") {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path = absPath
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between concurrent jobs.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.New("sqlite-store"),
		now:    time.Now,
	}, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the collection tables if they do not exist
func (s *SQLiteStore) Migrate(ctx context.Context, collections ...string) error {
	for _, collection := range collections {
		if err := validCollection(collection); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, sqliteDialect.createTableSQL(collection)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", collection, err)
		}
	}
	return nil
}

// Upsert inserts or replaces one document
func (s *SQLiteStore) Upsert(ctx context.Context, collection string, doc Document) (bool, error) {
	changed, err := s.UpsertMany(ctx, collection, []Document{doc})
	return changed == 1, err
}

// UpsertMany writes all documents in one transaction
func (s *SQLiteStore) UpsertMany(ctx context.Context, collection string, docs []Document) (int, error) {
	if err := validCollection(collection); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	start := time.Now()
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	changed := 0
	for _, doc := range docs {
		query, args, err := sqliteDialect.upsertSQL(collection, doc, now)
		if err != nil {
			return 0, fmt.Errorf("failed to build upsert for %s: %w", collection, err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			s.logger.LogDatabaseOperation("upsert_many", collection, 0, time.Since(start), err)
			return 0, fmt.Errorf("failed to upsert %s/%s: %w", collection, doc.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read affected rows: %w", err)
		}
		changed += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit %s upserts: %w", collection, err)
	}
	s.logger.LogDatabaseOperation("upsert_many", collection, changed, time.Since(start), nil)
	return changed, nil
}

// Query returns the documents matching filter
func (s *SQLiteStore) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	query, args, err := sqliteDialect.selectSQL(collection, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build query for %s: %w", collection, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		docs = append(docs, Document{ID: id, Data: []byte(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", collection, err)
	}
	return docs, nil
}
