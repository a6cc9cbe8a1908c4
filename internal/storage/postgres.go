package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS framework_records (
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (collection, id)
)`

// recordRow is the database shape of a Record.
type recordRow struct {
	ID        string    `db:"id"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r recordRow) record() Record {
	return Record{
		ID:        r.ID,
		Data:      r.Data,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// PostgresStore keeps records in a single Postgres table keyed by
// (collection, id).
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// OpenPostgres connects to dsn and makes sure the table exists.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	s := &PostgresStore{db: db, logger: logger.Named("storage.postgres")}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("Postgres store ready")
	return s, nil
}

// NewPostgresStore wraps an existing connection. The caller owns migration.
func NewPostgresStore(db *sqlx.DB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, logger: logger.Named("storage.postgres")}
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}
	return nil
}

// GetAll implements Store
func (s *PostgresStore) GetAll(ctx context.Context, collection string) ([]Record, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, data, created_at, updated_at FROM framework_records
		 WHERE collection = $1 ORDER BY created_at, id`, collection)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", collection, err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

// GetByID implements Store
func (s *PostgresStore) GetByID(ctx context.Context, collection, id string) (Record, error) {
	if err := checkCollection(collection); err != nil {
		return Record{}, err
	}

	var row recordRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, data, created_at, updated_at FROM framework_records
		 WHERE collection = $1 AND id = $2`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return row.record(), nil
}

// Save implements Store
func (s *PostgresStore) Save(ctx context.Context, collection string, rec Record) (Record, error) {
	if err := checkCollection(collection); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	var row recordRow
	err := s.db.GetContext(ctx, &row,
		`INSERT INTO framework_records (collection, id, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (collection, id)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
		 RETURNING id, data, created_at, updated_at`,
		collection, rec.ID, []byte(rec.Data), now)
	if err != nil {
		return Record{}, fmt.Errorf("save %s/%s: %w", collection, rec.ID, err)
	}

	s.logger.Debug("Record saved",
		zap.String("collection", collection),
		zap.String("id", rec.ID))
	return row.record(), nil
}

// Delete implements Store
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM framework_records WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return nil
}

// Close implements Store
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
