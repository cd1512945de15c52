package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mtiwari1/exgstream/internal/repository/migrations"
)

// SQLiteRepo implements Repository on a local SQLite file.
type SQLiteRepo struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteRepo{db: db}, nil
}

// GetMetadata retrieves the index entry of filename.
func (r *SQLiteRepo) GetMetadata(ctx context.Context, filename string) (*FileMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var (
		meta            = &FileMetadata{Filename: filename}
		created, update int64
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT total_chunks, total_records, created_at, last_updated FROM file_metadata WHERE filename = ?",
		filename,
	).Scan(&meta.TotalChunks, &meta.TotalRecords, &created, &update)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo getMetadata: %w", err)
	}
	meta.Created, meta.LastUpdated = fromMillis(created), fromMillis(update)
	return meta, nil
}

// PutMetadata upserts the index entry.
func (r *SQLiteRepo) PutMetadata(ctx context.Context, meta *FileMetadata) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO file_metadata (filename, total_chunks, total_records, created_at, last_updated)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(filename) DO UPDATE SET
    total_chunks = excluded.total_chunks,
    total_records = excluded.total_records,
    last_updated = excluded.last_updated`,
		meta.Filename, meta.TotalChunks, meta.TotalRecords, toMillis(meta.Created), toMillis(meta.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("repo putMetadata: %w", err)
	}
	return nil
}

// ListMetadata returns every index entry in rowid order.
func (r *SQLiteRepo) ListMetadata(ctx context.Context) ([]*FileMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		"SELECT filename, total_chunks, total_records, created_at, last_updated FROM file_metadata ORDER BY rowid",
	)
	if err != nil {
		return nil, fmt.Errorf("repo listMetadata: %w", err)
	}
	defer rows.Close()

	var out []*FileMetadata
	for rows.Next() {
		meta := &FileMetadata{}
		var created, update int64
		if err := rows.Scan(&meta.Filename, &meta.TotalChunks, &meta.TotalRecords, &created, &update); err != nil {
			return nil, fmt.Errorf("repo listMetadata scan: %w", err)
		}
		meta.Created, meta.LastUpdated = fromMillis(created), fromMillis(update)
		out = append(out, meta)
	}
	return out, rows.Err()
}

// GetChunk loads one chunk.
func (r *SQLiteRepo) GetChunk(ctx context.Context, filename string, index int) (*Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var data []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT data FROM data_chunks WHERE filename = ? AND chunk_index = ?",
		filename, index,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo getChunk: %w", err)
	}
	rows, err := decodeRows(data)
	if err != nil {
		return nil, fmt.Errorf("repo getChunk %s/%d: %w", filename, index, err)
	}
	return &Chunk{Filename: filename, Index: index, Rows: rows}, nil
}

// PutChunk upserts one chunk.
func (r *SQLiteRepo) PutChunk(ctx context.Context, chunk *Chunk) error {
	data, err := encodeRows(chunk.Rows)
	if err != nil {
		return fmt.Errorf("repo putChunk: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx, `INSERT INTO data_chunks (filename, chunk_index, row_count, data)
VALUES (?, ?, ?, ?)
ON CONFLICT(filename, chunk_index) DO UPDATE SET
    row_count = excluded.row_count,
    data = excluded.data`,
		chunk.Filename, chunk.Index, len(chunk.Rows), data,
	)
	if err != nil {
		return fmt.Errorf("repo putChunk: %w", err)
	}
	return nil
}

// ChunkStats counts what is persisted for filename.
func (r *SQLiteRepo) ChunkStats(ctx context.Context, filename string) (ChunkStats, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var st ChunkStats
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(1), COALESCE(SUM(row_count), 0) FROM data_chunks WHERE filename = ?",
		filename,
	).Scan(&st.Chunks, &st.Records)
	if err != nil {
		return ChunkStats{}, fmt.Errorf("repo chunkStats: %w", err)
	}
	return st, nil
}

// DeleteFile clears both stores for filename. The two deletes are separate
// statements, matching the MySQL backend.
func (r *SQLiteRepo) DeleteFile(ctx context.Context, filename string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, "DELETE FROM file_metadata WHERE filename = ?", filename); err != nil {
		return fmt.Errorf("repo deleteFile metadata: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM data_chunks WHERE filename = ?", filename); err != nil {
		return fmt.Errorf("repo deleteFile chunks: %w", err)
	}
	return nil
}

// DeleteAll empties both stores.
func (r *SQLiteRepo) DeleteAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, "DELETE FROM file_metadata"); err != nil {
		return fmt.Errorf("repo deleteAll metadata: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM data_chunks"); err != nil {
		return fmt.Errorf("repo deleteAll chunks: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (r *SQLiteRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (r *SQLiteRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
