package out

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	transportout "flowsync/internal/modules/transport/port/out"
)

// DBPool is the slice of pgxpool.Pool the store needs; pgxmock satisfies it in tests.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type PostgresSnapshotStore struct {
	pool      DBPool
	tableName string
}

var _ transportout.SnapshotStore = (*PostgresSnapshotStore)(nil)

type PostgresOptions struct {
	ConnString string
	TableName  string
}

func NewPostgresSnapshotStore(ctx context.Context, opts PostgresOptions) (*PostgresSnapshotStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	s := NewPostgresSnapshotStoreWithPool(pool, opts.TableName)
	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresSnapshotStoreWithPool(pool DBPool, tableName string) *PostgresSnapshotStore {
	if tableName == "" {
		tableName = "room_snapshots"
	}
	return &PostgresSnapshotStore{pool: pool, tableName: tableName}
}

func (s *PostgresSnapshotStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			room TEXT PRIMARY KEY,
			payload BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`, s.tableName)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.tableName, err)
	}
	return nil
}

func (s *PostgresSnapshotStore) Load(ctx context.Context, room string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE room = $1`, s.tableName)
	var payload []byte
	err := s.pool.QueryRow(ctx, query, room).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return payload, nil
}

func (s *PostgresSnapshotStore) Save(ctx context.Context, room string, update []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (room, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (room) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()
	`, s.tableName)
	if _, err := s.pool.Exec(ctx, query, room, update); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresSnapshotStore) Close() {
	s.pool.Close()
}
