package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const dbTimeout = 5 * time.Second

// mysqlSchema mirrors migrations/0001_recordings.sql with MySQL column types.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS file_metadata (
    seq           BIGINT AUTO_INCREMENT UNIQUE,
    filename      VARCHAR(255) NOT NULL PRIMARY KEY,
    total_chunks  INT NOT NULL DEFAULT 0,
    total_records BIGINT NOT NULL DEFAULT 0,
    created_at    BIGINT NOT NULL,
    last_updated  BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS data_chunks (
    filename    VARCHAR(255) NOT NULL,
    chunk_index INT NOT NULL,
    row_count   INT NOT NULL,
    data        MEDIUMBLOB NOT NULL,
    PRIMARY KEY (filename, chunk_index),
    INDEX idx_data_chunks_filename (filename)
)`,
}

// InitSchema creates the recording tables if they do not exist.
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, q := range mysqlSchema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// OpenMySQL connects to dsn, creates the schema and prepares statements. The
// returned repo owns the connection pool and closes it on Close.
func OpenMySQL(ctx context.Context, dsn string) (*MySQLRepo, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if err := InitSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	r, err := NewMySQLRepo(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	r.ownsDB = true
	return r, nil
}

// MySQLRepo implements Repository using prepared statements and context timeouts.
type MySQLRepo struct {
	db          *sql.DB
	ownsDB      bool
	stmtGetMeta *sql.Stmt
	stmtPutMeta *sql.Stmt
	stmtGetChnk *sql.Stmt
	stmtPutChnk *sql.Stmt
	stmtStats   *sql.Stmt
	stmtDelMeta *sql.Stmt
	stmtDelChnk *sql.Stmt
}

// NewMySQLRepo prepares all statements up front. The caller owns the *sql.DB lifetime.
func NewMySQLRepo(db *sql.DB) (*MySQLRepo, error) {
	r := &MySQLRepo{db: db}
	prepared := []struct {
		name string
		dst  **sql.Stmt
		q    string
	}{
		{"getMetadata", &r.stmtGetMeta, "SELECT total_chunks, total_records, created_at, last_updated FROM file_metadata WHERE filename = ?"},
		{"putMetadata", &r.stmtPutMeta, `INSERT INTO file_metadata (filename, total_chunks, total_records, created_at, last_updated)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE total_chunks = VALUES(total_chunks), total_records = VALUES(total_records), last_updated = VALUES(last_updated)`},
		{"getChunk", &r.stmtGetChnk, "SELECT data FROM data_chunks WHERE filename = ? AND chunk_index = ?"},
		{"putChunk", &r.stmtPutChnk, `INSERT INTO data_chunks (filename, chunk_index, row_count, data)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE row_count = VALUES(row_count), data = VALUES(data)`},
		{"chunkStats", &r.stmtStats, "SELECT COUNT(1), COALESCE(SUM(row_count), 0) FROM data_chunks WHERE filename = ?"},
		{"deleteMetadata", &r.stmtDelMeta, "DELETE FROM file_metadata WHERE filename = ?"},
		{"deleteChunks", &r.stmtDelChnk, "DELETE FROM data_chunks WHERE filename = ?"},
	}
	for _, p := range prepared {
		stmt, err := db.Prepare(p.q)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("prepare %s: %w", p.name, err)
		}
		*p.dst = stmt
	}
	return r, nil
}

// GetMetadata retrieves the index entry of filename.
func (r *MySQLRepo) GetMetadata(ctx context.Context, filename string) (*FileMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	meta := &FileMetadata{Filename: filename}
	var created, update int64
	err := r.stmtGetMeta.QueryRowContext(ctx, filename).Scan(&meta.TotalChunks, &meta.TotalRecords, &created, &update)
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
func (r *MySQLRepo) PutMetadata(ctx context.Context, meta *FileMetadata) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := r.stmtPutMeta.ExecContext(ctx,
		meta.Filename, meta.TotalChunks, meta.TotalRecords, toMillis(meta.Created), toMillis(meta.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("repo putMetadata: %w", err)
	}
	return nil
}

// ListMetadata returns every index entry in insertion order.
func (r *MySQLRepo) ListMetadata(ctx context.Context) ([]*FileMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		"SELECT filename, total_chunks, total_records, created_at, last_updated FROM file_metadata ORDER BY seq",
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
func (r *MySQLRepo) GetChunk(ctx context.Context, filename string, index int) (*Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var data []byte
	err := r.stmtGetChnk.QueryRowContext(ctx, filename, index).Scan(&data)
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
func (r *MySQLRepo) PutChunk(ctx context.Context, chunk *Chunk) error {
	data, err := encodeRows(chunk.Rows)
	if err != nil {
		return fmt.Errorf("repo putChunk: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := r.stmtPutChnk.ExecContext(ctx, chunk.Filename, chunk.Index, len(chunk.Rows), data); err != nil {
		return fmt.Errorf("repo putChunk: %w", err)
	}
	return nil
}

// ChunkStats counts what is persisted for filename.
func (r *MySQLRepo) ChunkStats(ctx context.Context, filename string) (ChunkStats, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var st ChunkStats
	if err := r.stmtStats.QueryRowContext(ctx, filename).Scan(&st.Chunks, &st.Records); err != nil {
		return ChunkStats{}, fmt.Errorf("repo chunkStats: %w", err)
	}
	return st, nil
}

// DeleteFile clears both stores for filename.
func (r *MySQLRepo) DeleteFile(ctx context.Context, filename string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := r.stmtDelMeta.ExecContext(ctx, filename); err != nil {
		return fmt.Errorf("repo deleteFile metadata: %w", err)
	}
	if _, err := r.stmtDelChnk.ExecContext(ctx, filename); err != nil {
		return fmt.Errorf("repo deleteFile chunks: %w", err)
	}
	return nil
}

// DeleteAll empties both stores.
func (r *MySQLRepo) DeleteAll(ctx context.Context) error {
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

// Ping checks connectivity within dbTimeout.
func (r *MySQLRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("repo ping: %w", err)
	}
	return nil
}

// Close releases all prepared statements.
func (r *MySQLRepo) Close() error {
	for _, s := range []*sql.Stmt{r.stmtGetMeta, r.stmtPutMeta, r.stmtGetChnk, r.stmtPutChnk, r.stmtStats, r.stmtDelMeta, r.stmtDelChnk} {
		if s != nil {
			s.Close()
		}
	}
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}
