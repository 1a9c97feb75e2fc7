package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iddaa-lens/edge/pkg/logger"
)

// PgxConn is the subset of *pgxpool.Pool used by PostgresStore
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore keeps each collection in its own JSONB table
type PostgresStore struct {
	db     PgxConn
	logger *logger.Logger
	now    func() time.Time
}

// NewPostgresStore creates a store on top of a pgx pool
func NewPostgresStore(db PgxConn) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.New("postgres-store"),
		now:    time.Now,
	}
}

// Migrate creates the collection tables if they do not exist
func (s *PostgresStore) Migrate(ctx context.Context, collections ...string) error {
	for _, collection := range collections {
		if err := validCollection(collection); err != nil {
			return err
		}
		if _, err := s.db.Exec(ctx, postgresDialect.createTableSQL(collection)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", collection, err)
		}
	}
	return nil
}

// Upsert inserts or replaces one document
func (s *PostgresStore) Upsert(ctx context.Context, collection string, doc Document) (bool, error) {
	if err := validCollection(collection); err != nil {
		return false, err
	}
	start := time.Now()

	query, args, err := postgresDialect.upsertSQL(collection, doc, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to build upsert for %s: %w", collection, err)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	s.logger.LogDatabaseOperation("upsert", collection, int(tag.RowsAffected()), time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to upsert %s/%s: %w", collection, doc.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertMany writes all documents in one transaction
func (s *PostgresStore) UpsertMany(ctx context.Context, collection string, docs []Document) (int, error) {
	if err := validCollection(collection); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	start := time.Now()
	now := s.now()

	changed := 0
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, doc := range docs {
			query, args, err := postgresDialect.upsertSQL(collection, doc, now)
			if err != nil {
				return fmt.Errorf("failed to build upsert for %s: %w", collection, err)
			}
			tag, err := tx.Exec(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("failed to upsert %s/%s: %w", collection, doc.ID, err)
			}
			changed += int(tag.RowsAffected())
		}
		return nil
	})
	s.logger.LogDatabaseOperation("upsert_many", collection, changed, time.Since(start), err)
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// Query returns the documents matching filter
func (s *PostgresStore) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	query, args, err := postgresDialect.selectSQL(collection, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build query for %s: %w", collection, err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

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
