package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps one snapshot row per document in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on an existing pool and
// ensures the snapshot table exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS document_snapshots (
			document_id text PRIMARY KEY,
			state       bytea NOT NULL,
			updated_at  timestamptz NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Load(ctx context.Context, documentID string) (*SnapshotRecord, error) {
	rec := SnapshotRecord{DocumentID: documentID}
	err := s.pool.QueryRow(ctx,
		`SELECT state, updated_at FROM document_snapshots WHERE document_id = $1`,
		documentID,
	).Scan(&rec.State, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", documentID, err)
	}
	return &rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, documentID string, state []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_snapshots (document_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		documentID, state, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", documentID, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]SnapshotRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document_id, updated_at FROM document_snapshots ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var result []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		if err := rows.Scan(&rec.DocumentID, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM document_snapshots WHERE document_id = $1`, documentID,
	); err != nil {
		return fmt.Errorf("delete snapshot %q: %w", documentID, err)
	}
	return nil
}
