// Package repository persists recordings as a metadata index plus fixed-size
// row chunks. Two backends share the Repository contract: SQLite for a local
// store and MySQL for a shared one.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mtiwari1/exgstream/internal/sample"
)

// ErrNotFound is returned when a metadata record or chunk does not exist.
var ErrNotFound = errors.New("repository: not found")

// FileMetadata is the index entry of one recording.
type FileMetadata struct {
	Filename     string
	TotalChunks  int
	TotalRecords int
	Created      time.Time
	LastUpdated  time.Time
}

// Chunk is one bounded segment of a recording's rows.
type Chunk struct {
	Filename string
	Index    int
	Rows     []sample.Row
}

// ChunkStats summarises what is actually persisted for a filename.
type ChunkStats struct {
	Chunks  int
	Records int
}

// Repository is the durable metadata + chunk store.
// Implementations must honour the supplied context for cancellation and timeouts.
type Repository interface {
	// GetMetadata returns ErrNotFound when filename has never been written.
	GetMetadata(ctx context.Context, filename string) (*FileMetadata, error)

	// PutMetadata inserts or replaces the metadata record.
	PutMetadata(ctx context.Context, meta *FileMetadata) error

	// ListMetadata returns every metadata record in store order.
	ListMetadata(ctx context.Context) ([]*FileMetadata, error)

	// GetChunk returns ErrNotFound for a missing chunk.
	GetChunk(ctx context.Context, filename string, index int) (*Chunk, error)

	// PutChunk inserts or replaces one chunk.
	PutChunk(ctx context.Context, chunk *Chunk) error

	// ChunkStats counts persisted chunks and rows for filename.
	ChunkStats(ctx context.Context, filename string) (ChunkStats, error)

	// Ping checks that the backing database is reachable.
	Ping(ctx context.Context) error

	// DeleteFile removes the metadata record and every chunk of filename.
	DeleteFile(ctx context.Context, filename string) error

	// DeleteAll clears both stores.
	DeleteAll(ctx context.Context) error

	Close() error
}
