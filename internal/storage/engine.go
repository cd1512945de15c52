// Package storage is the chunked, metadata-indexed recording store. Each
// recording is split into ChunkSize-row chunks; a metadata record tracks the
// chunk and row counts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mtiwari1/exgstream/internal/export"
	"github.com/mtiwari1/exgstream/internal/repository"
	"github.com/mtiwari1/exgstream/internal/sample"
)

// ChunkSize is the maximum number of rows held by one chunk.
const ChunkSize = 1000

var (
	// ErrNoData is returned by archive export when no recordings exist.
	ErrNoData = errors.New("storage: no recordings")
	// ErrFileNotFound is returned for operations on an unknown recording.
	ErrFileNotFound = errors.New("storage: recording not found")
)

// Engine implements append, read, export and delete over a Repository.
// Operations on different filenames run concurrently; operations on the same
// filename are serialised. DeleteAll excludes everything else.
type Engine struct {
	repo   repository.Repository
	logger *slog.Logger
	now    func() time.Time

	global sync.RWMutex
	files  keyedMutex

	selMu    sync.RWMutex
	selected []int
}

// NewEngine wraps repo. The caller owns repo's lifetime.
func NewEngine(repo repository.Repository, logger *slog.Logger) *Engine {
	return &Engine{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		files:  keyedMutex{locks: make(map[string]*refLock)},
	}
}

// SetSelectedChannels sets the channel columns used by exports. An empty
// selection exports every channel present in the rows.
func (e *Engine) SetSelectedChannels(channels []int) {
	sel := export.NormalizeChannels(channels)
	e.selMu.Lock()
	e.selected = sel
	e.selMu.Unlock()
}

// SelectedChannels returns a copy of the current export selection.
func (e *Engine) SelectedChannels() []int {
	e.selMu.RLock()
	defer e.selMu.RUnlock()
	return slices.Clone(e.selected)
}

// Append adds rows to filename, creating the recording on first write.
// Chunks are written first and metadata last, so an interrupted append
// leaves metadata behind the chunks, never ahead of them.
func (e *Engine) Append(ctx context.Context, filename string, rows []sample.Row) error {
	if filename == "" {
		return errors.New("storage append: filename is required")
	}
	if len(rows) == 0 {
		return nil
	}

	e.global.RLock()
	defer e.global.RUnlock()
	unlock := e.files.lock(filename)
	defer unlock()

	meta, err := e.reconcile(ctx, filename)
	if err != nil {
		return fmt.Errorf("storage append %s: %w", filename, err)
	}
	if meta == nil {
		now := e.now()
		meta = &repository.FileMetadata{Filename: filename, Created: now}
	}

	index, offset := meta.TotalRecords/ChunkSize, meta.TotalRecords%ChunkSize
	rest := rows
	for len(rest) > 0 {
		var existing []sample.Row
		if offset > 0 {
			chunk, err := e.repo.GetChunk(ctx, filename, index)
			switch {
			case errors.Is(err, repository.ErrNotFound):
			case err != nil:
				return fmt.Errorf("storage append %s: %w", filename, err)
			default:
				existing = chunk.Rows
			}
			if len(existing) > offset {
				existing = existing[:offset]
			}
		}

		n := min(ChunkSize-len(existing), len(rest))
		data := make([]sample.Row, 0, len(existing)+n)
		data = append(data, existing...)
		data = append(data, rest[:n]...)
		if err := e.repo.PutChunk(ctx, &repository.Chunk{Filename: filename, Index: index, Rows: data}); err != nil {
			return fmt.Errorf("storage append %s: %w", filename, err)
		}

		meta.TotalRecords = index*ChunkSize + len(data)
		rest = rest[n:]
		index++
		offset = 0
	}

	meta.TotalChunks = chunksFor(meta.TotalRecords)
	meta.LastUpdated = e.now()
	if err := e.repo.PutMetadata(ctx, meta); err != nil {
		return fmt.Errorf("storage append %s: %w", filename, err)
	}

	e.logger.Debug("rows appended",
		slog.String("filename", filename),
		slog.Int("rows", len(rows)),
		slog.Int("total_records", meta.TotalRecords),
		slog.Int("total_chunks", meta.TotalChunks),
	)
	return nil
}

// ReadAll returns every row of filename in chunk order. An unknown or empty
// recording yields no rows and no error.
func (e *Engine) ReadAll(ctx context.Context, filename string) ([]sample.Row, error) {
	e.global.RLock()
	defer e.global.RUnlock()
	unlock := e.files.lock(filename)
	defer unlock()

	_, rows, err := e.readAll(ctx, filename)
	return rows, err
}

func (e *Engine) readAll(ctx context.Context, filename string) (*repository.FileMetadata, []sample.Row, error) {
	meta, err := e.reconcile(ctx, filename)
	if err != nil {
		return nil, nil, fmt.Errorf("storage readAll %s: %w", filename, err)
	}
	if meta == nil || meta.TotalChunks == 0 {
		return meta, nil, nil
	}

	parts := make([][]sample.Row, 0, meta.TotalChunks)
	for i := 0; i < meta.TotalChunks; i++ {
		chunk, err := e.repo.GetChunk(ctx, filename, i)
		if err != nil {
			return nil, nil, fmt.Errorf("storage readAll %s chunk %d: %w", filename, i, err)
		}
		parts = append(parts, chunk.Rows)
	}
	return meta, treeMerge(parts), nil
}

// List returns the metadata of every recording in store order.
func (e *Engine) List(ctx context.Context) ([]*repository.FileMetadata, error) {
	e.global.RLock()
	defer e.global.RUnlock()

	metas, err := e.repo.ListMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage list: %w", err)
	}
	return metas, nil
}

// ListFilenames returns every recording name in store order.
func (e *Engine) ListFilenames(ctx context.Context) ([]string, error) {
	metas, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(metas))
	for i, m := range metas {
		names[i] = m.Filename
	}
	return names, nil
}

// ExportOne writes filename as CSV to w.
func (e *Engine) ExportOne(ctx context.Context, filename string, w io.Writer) (export.CSVResult, error) {
	e.global.RLock()
	defer e.global.RUnlock()
	unlock := e.files.lock(filename)
	defer unlock()

	return e.exportOne(ctx, filename, w)
}

func (e *Engine) exportOne(ctx context.Context, filename string, w io.Writer) (export.CSVResult, error) {
	meta, rows, err := e.readAll(ctx, filename)
	if err != nil {
		return export.CSVResult{}, err
	}
	if meta == nil {
		return export.CSVResult{}, fmt.Errorf("storage exportOne %s: %w", filename, ErrFileNotFound)
	}

	res, err := export.WriteCSV(w, rows, e.exportChannels(rows))
	if err != nil {
		return res, fmt.Errorf("storage exportOne %s: %w", filename, err)
	}
	if res.Skipped > 0 {
		e.logger.Warn("skipped invalid rows during export",
			slog.String("filename", filename),
			slog.Int("skipped", res.Skipped),
		)
	}
	return res, nil
}

// ExportAllAsArchive writes every recording as one CSV entry of a zip archive
// and returns the number of entries.
func (e *Engine) ExportAllAsArchive(ctx context.Context, w io.Writer) (int, error) {
	e.global.RLock()
	defer e.global.RUnlock()

	metas, err := e.repo.ListMetadata(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage exportAll: %w", err)
	}
	if len(metas) == 0 {
		return 0, ErrNoData
	}

	archive := export.NewArchive(w)
	for _, m := range metas {
		entry, err := archive.Create(m.Filename, m.LastUpdated)
		if err != nil {
			return archive.Entries(), fmt.Errorf("storage exportAll: %w", err)
		}
		unlock := e.files.lock(m.Filename)
		_, err = e.exportOne(ctx, m.Filename, entry)
		unlock()
		if err != nil {
			return archive.Entries(), fmt.Errorf("storage exportAll: %w", err)
		}
	}
	if err := archive.Close(); err != nil {
		return archive.Entries(), fmt.Errorf("storage exportAll: %w", err)
	}
	return archive.Entries(), nil
}

// ExportEDF writes filename as EDF. samplingRate is the acquisition rate the
// rows were recorded at.
func (e *Engine) ExportEDF(ctx context.Context, filename string, w io.WriteSeeker, samplingRate int) error {
	e.global.RLock()
	defer e.global.RUnlock()
	unlock := e.files.lock(filename)
	defer unlock()

	meta, rows, err := e.readAll(ctx, filename)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("storage exportEDF %s: %w", filename, ErrFileNotFound)
	}
	err = export.WriteEDF(w, rows, export.EDFOptions{
		RecordingID:  filename,
		StartTime:    meta.Created,
		SamplingRate: samplingRate,
		Selected:     e.exportChannels(rows),
	})
	if err != nil {
		return fmt.Errorf("storage exportEDF %s: %w", filename, err)
	}
	return nil
}

// DeleteOne removes filename's metadata and chunks.
func (e *Engine) DeleteOne(ctx context.Context, filename string) error {
	e.global.RLock()
	defer e.global.RUnlock()
	unlock := e.files.lock(filename)
	defer unlock()

	meta, err := e.reconcile(ctx, filename)
	if err != nil {
		return fmt.Errorf("storage deleteOne %s: %w", filename, err)
	}
	if meta == nil {
		return fmt.Errorf("storage deleteOne %s: %w", filename, ErrFileNotFound)
	}
	if err := e.repo.DeleteFile(ctx, filename); err != nil {
		return fmt.Errorf("storage deleteOne %s: %w", filename, err)
	}
	e.logger.Info("recording deleted", slog.String("filename", filename))
	return nil
}

// DeleteAll clears every recording.
func (e *Engine) DeleteAll(ctx context.Context) error {
	e.global.Lock()
	defer e.global.Unlock()

	if err := e.repo.DeleteAll(ctx); err != nil {
		return fmt.Errorf("storage deleteAll: %w", err)
	}
	e.logger.Info("all recordings deleted")
	return nil
}

// reconcile loads metadata and checks it against the persisted chunks. The
// chunk-derived counts win; a corrected record is returned but only written
// back by the next append. A nil result means the recording does not exist.
func (e *Engine) reconcile(ctx context.Context, filename string) (*repository.FileMetadata, error) {
	meta, err := e.repo.GetMetadata(ctx, filename)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	stats, err := e.repo.ChunkStats(ctx, filename)
	if err != nil {
		return nil, err
	}

	if meta == nil {
		if stats.Chunks == 0 {
			return nil, nil
		}
		e.logger.Warn("recovering recording without metadata",
			slog.String("filename", filename),
			slog.Int("chunks", stats.Chunks),
			slog.Int("records", stats.Records),
		)
		now := e.now()
		return &repository.FileMetadata{
			Filename:     filename,
			TotalChunks:  stats.Chunks,
			TotalRecords: stats.Records,
			Created:      now,
			LastUpdated:  now,
		}, nil
	}

	if meta.TotalChunks != stats.Chunks || meta.TotalRecords != stats.Records {
		e.logger.Warn("metadata disagrees with persisted chunks",
			slog.String("filename", filename),
			slog.Int("meta_chunks", meta.TotalChunks),
			slog.Int("meta_records", meta.TotalRecords),
			slog.Int("chunks", stats.Chunks),
			slog.Int("records", stats.Records),
		)
		meta.TotalChunks = stats.Chunks
		meta.TotalRecords = stats.Records
	}
	return meta, nil
}

// exportChannels is the configured selection, or every channel present in
// rows when nothing is selected.
func (e *Engine) exportChannels(rows []sample.Row) []int {
	if sel := e.SelectedChannels(); len(sel) > 0 {
		return sel
	}
	var widest int
	for _, r := range rows {
		widest = max(widest, len(r)-1)
	}
	all := make([]int, widest)
	for i := range all {
		all[i] = i + 1
	}
	return all
}

func chunksFor(records int) int {
	return (records + ChunkSize - 1) / ChunkSize
}

// treeMerge concatenates parts in order by merging adjacent pairs until one
// slice remains.
func treeMerge(parts [][]sample.Row) []sample.Row {
	if len(parts) == 0 {
		return nil
	}
	for len(parts) > 1 {
		next := make([][]sample.Row, 0, (len(parts)+1)/2)
		for i := 0; i < len(parts); i += 2 {
			if i+1 == len(parts) {
				next = append(next, parts[i])
				continue
			}
			merged := make([]sample.Row, 0, len(parts[i])+len(parts[i+1]))
			merged = append(merged, parts[i]...)
			merged = append(merged, parts[i+1]...)
			next = append(next, merged)
		}
		parts = next
	}
	return parts[0]
}
