package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/anonvpn/common"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS blobs (
	kind TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteBackend keeps every blob as one row of a single table.
type SQLiteBackend struct {
	path string
	db   *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", common.ErrIO, path, err)
	}
	// A single connection serializes writers inside the process.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init %s: %w", common.ErrIO, path, err)
	}
	if err := common.ChownToInvoker(path); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: chown %s: %w", common.ErrIO, path, err)
	}
	return &SQLiteBackend{path: path, db: db}, nil
}

func (b *SQLiteBackend) String() string {
	return fmt.Sprintf("sqlite store '%s'", b.path)
}

// Read implements Backend.
func (b *SQLiteBackend) Read(ctx context.Context, kind Kind) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE kind = ?`, kind.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", common.ErrIO, kind, err)
	}
	return data, nil
}

// Write implements Backend.
func (b *SQLiteBackend) Write(ctx context.Context, kind Kind, data []byte) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin write %s: %w", common.ErrIO, kind, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO blobs (kind, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(kind) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		kind.String(), data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", common.ErrIO, kind, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit %s: %w", common.ErrIO, kind, err)
	}
	return nil
}

// Delete implements Backend.
func (b *SQLiteBackend) Delete(ctx context.Context, kind Kind) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM blobs WHERE kind = ?`, kind.String()); err != nil {
		return fmt.Errorf("%w: delete %s: %w", common.ErrIO, kind, err)
	}
	return nil
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
