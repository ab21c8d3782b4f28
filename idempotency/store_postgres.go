package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

const schema = `
CREATE TABLE IF NOT EXISTS asset_writes (
	fingerprint  TEXT PRIMARY KEY,
	asset_key    TEXT NOT NULL,
	operation    TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	status       TEXT NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_error   JSONB,
	receipt      JSONB,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS asset_writes_status_updated_idx ON asset_writes (status, updated_at);
`

// writeRow is the table form of a PendingWrite
type writeRow struct {
	Fingerprint string    `db:"fingerprint"`
	AssetKey    string    `db:"asset_key"`
	Operation   string    `db:"operation"`
	PayloadHash string    `db:"payload_hash"`
	Status      string    `db:"status"`
	Attempts    int       `db:"attempts"`
	LastError   []byte    `db:"last_error"`
	Receipt     []byte    `db:"receipt"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toRow(w *gamefi.PendingWrite) (*writeRow, error) {
	row := &writeRow{
		Fingerprint: w.Fingerprint,
		AssetKey:    w.AssetKey,
		Operation:   string(w.Operation),
		PayloadHash: w.PayloadHash,
		Status:      string(w.Status),
		Attempts:    w.Attempts,
		CreatedAt:   w.CreatedAt.UTC(),
		UpdatedAt:   w.UpdatedAt.UTC(),
	}
	if w.LastError != nil {
		data, err := json.Marshal(w.LastError)
		if err != nil {
			return nil, err
		}
		row.LastError = data
	}
	if w.Receipt != nil {
		data, err := json.Marshal(w.Receipt)
		if err != nil {
			return nil, err
		}
		row.Receipt = data
	}
	return row, nil
}

func (r *writeRow) toWrite() (*gamefi.PendingWrite, error) {
	w := &gamefi.PendingWrite{
		Fingerprint: r.Fingerprint,
		AssetKey:    r.AssetKey,
		Operation:   gamefi.Operation(r.Operation),
		PayloadHash: r.PayloadHash,
		Status:      gamefi.WriteStatus(r.Status),
		Attempts:    r.Attempts,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.LastError) > 0 {
		w.LastError = &gamefi.GatewayError{}
		if err := json.Unmarshal(r.LastError, w.LastError); err != nil {
			return nil, err
		}
	}
	if len(r.Receipt) > 0 {
		w.Receipt = &gamefi.Receipt{}
		if err := json.Unmarshal(r.Receipt, w.Receipt); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// PostgresStore keeps write records in the asset_writes table
type PostgresStore struct {
	db  *sqlx.DB
	cfg *config
}

// NewPostgresStore creates a store using the provided database handle.
func NewPostgresStore(db *sqlx.DB, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, cfg: newConfig(opts)}
}

// OpenPostgres connects to dsn and makes sure the schema exists
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := NewPostgresStore(db, opts...)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the table and index when missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure asset_writes schema: %w", err)
	}
	return nil
}

// Close closes the database handle
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Get returns the record, or nil when absent
func (s *PostgresStore) Get(ctx context.Context, fingerprint string) (*gamefi.PendingWrite, error) {
	var row writeRow
	err := s.db.GetContext(ctx, &row, `
		SELECT fingerprint, asset_key, operation, payload_hash, status, attempts,
		       last_error, receipt, created_at, updated_at
		FROM asset_writes
		WHERE fingerprint = $1
	`, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select write %s: %w", fingerprint, err)
	}
	return row.toWrite()
}

// Put inserts or replaces the record
func (s *PostgresStore) Put(ctx context.Context, write *gamefi.PendingWrite) error {
	row, err := toRow(write)
	if err != nil {
		return fmt.Errorf("encode write record: %w", err)
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO asset_writes (fingerprint, asset_key, operation, payload_hash, status, attempts,
		                          last_error, receipt, created_at, updated_at)
		VALUES (:fingerprint, :asset_key, :operation, :payload_hash, :status, :attempts,
		        :last_error, :receipt, :created_at, :updated_at)
		ON CONFLICT (fingerprint) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			receipt = EXCLUDED.receipt,
			updated_at = EXCLUDED.updated_at
	`, row)
	if err != nil {
		return fmt.Errorf("upsert write %s: %w", write.Fingerprint, err)
	}
	return nil
}

// Claim inserts the record, or replaces an active one last updated before
// staleBefore. The row count tells whether this caller won.
func (s *PostgresStore) Claim(ctx context.Context, write *gamefi.PendingWrite, staleBefore time.Time) (bool, error) {
	row, err := toRow(write)
	if err != nil {
		return false, fmt.Errorf("encode write record: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_writes (fingerprint, asset_key, operation, payload_hash, status, attempts,
		                          last_error, receipt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (fingerprint) DO UPDATE SET
			asset_key = EXCLUDED.asset_key,
			operation = EXCLUDED.operation,
			payload_hash = EXCLUDED.payload_hash,
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			receipt = EXCLUDED.receipt,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE asset_writes.status IN ($11, $12) AND asset_writes.updated_at < $13
	`, row.Fingerprint, row.AssetKey, row.Operation, row.PayloadHash, row.Status, row.Attempts,
		row.LastError, row.Receipt, row.CreatedAt, row.UpdatedAt,
		string(gamefi.StatusQueued), string(gamefi.StatusSubmitted), staleBefore.UTC())
	if err != nil {
		return false, fmt.Errorf("claim write %s: %w", write.Fingerprint, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Has reports whether a record exists
func (s *PostgresStore) Has(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := s.db.QueryRowxContext(ctx, `SELECT EXISTS(SELECT 1 FROM asset_writes WHERE fingerprint = $1)`, fingerprint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check write %s: %w", fingerprint, err)
	}
	return exists, nil
}

// Prune removes terminal records updated before the cut-off
func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM asset_writes
		WHERE status IN ($1, $2) AND updated_at < $3
	`, string(gamefi.StatusConfirmed), string(gamefi.StatusFailed), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune writes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

var _ gamefi.IdempotencyStore = (*PostgresStore)(nil)
