package worker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtiwari1/exgstream/internal/export"
	"github.com/mtiwari1/exgstream/internal/sample"
	"github.com/mtiwari1/exgstream/internal/worker"
)

type fakeStore struct {
	mu       sync.Mutex
	calls    []string
	delay    time.Duration
	failOn   string
	selected []int
}

func (f *fakeStore) record(call string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.failOn != "" && call == f.failOn {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeStore) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) SetSelectedChannels(ch []int) {
	f.mu.Lock()
	f.selected = ch
	f.mu.Unlock()
	_ = f.record("select")
}

func (f *fakeStore) Append(_ context.Context, name string, rows []sample.Row) error {
	return f.record(fmt.Sprintf("append %s %d", name, rows[0].Counter()))
}

func (f *fakeStore) ListFilenames(context.Context) ([]string, error) {
	return []string{"a.csv"}, f.record("list")
}

func (f *fakeStore) ExportOne(_ context.Context, name string, w io.Writer) (export.CSVResult, error) {
	if err := f.record("export " + name); err != nil {
		return export.CSVResult{}, err
	}
	_, _ = io.WriteString(w, name)
	return export.CSVResult{Rows: 1}, nil
}

func (f *fakeStore) ExportAllAsArchive(_ context.Context, w io.Writer) (int, error) {
	_, _ = io.WriteString(w, "zip")
	return 2, f.record("exportAll")
}

func (f *fakeStore) ExportEDF(_ context.Context, name string, w io.WriteSeeker, rate int) error {
	_, _ = fmt.Fprintf(w, "edf %d", rate)
	return f.record("edf " + name)
}

func (f *fakeStore) DeleteOne(_ context.Context, name string) error {
	return f.record("delete " + name)
}

func (f *fakeStore) DeleteAll(context.Context) error {
	return f.record("deleteAll")
}

func newPool(t *testing.T, store worker.Store, shards int) *worker.Pool {
	t.Helper()
	p := worker.NewPool(store, shards, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.Start()
	t.Cleanup(p.Shutdown)
	return p
}

func TestSameFilenameKeepsOrder(t *testing.T) {
	store := &fakeStore{}
	p := newPool(t, store, 4)

	var replies []<-chan worker.Response
	for i := 0; i < 50; i++ {
		r, err := p.Submit(worker.Request{Action: worker.ActionAppend, Filename: "f.csv", Rows: []sample.Row{{int32(i)}}})
		require.NoError(t, err)
		replies = append(replies, r)
	}
	for _, r := range replies {
		require.NoError(t, (<-r).Err)
	}

	calls := store.log()
	require.Len(t, calls, 50)
	for i, c := range calls {
		assert.Equal(t, fmt.Sprintf("append f.csv %d", i), c)
	}
}

func TestResponsesAreCorrelated(t *testing.T) {
	p := newPool(t, &fakeStore{delay: time.Millisecond}, 3)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("file-%d.csv", i)
			resp, err := p.Do(context.Background(), worker.Request{ID: name, Action: worker.ActionExportOne, Filename: name})
			assert.NoError(t, err)
			assert.Equal(t, name, resp.ID)
			assert.Equal(t, name, string(resp.Data))
			assert.Equal(t, worker.ActionExportOne, resp.Action)
		}(i)
	}
	wg.Wait()
}

func TestGlobalRequestWaitsForEarlierWork(t *testing.T) {
	store := &fakeStore{delay: 5 * time.Millisecond}
	p := newPool(t, store, 4)

	var replies []<-chan worker.Response
	for i := 0; i < 8; i++ {
		r, err := p.Submit(worker.Request{
			Action:   worker.ActionAppend,
			Filename: fmt.Sprintf("f%d.csv", i),
			Rows:     []sample.Row{{0}},
		})
		require.NoError(t, err)
		replies = append(replies, r)
	}
	resp, err := p.Do(context.Background(), worker.Request{Action: worker.ActionDeleteAll})
	require.NoError(t, err)
	assert.Equal(t, worker.ActionDeleteAll, resp.Action)
	for _, r := range replies {
		require.NoError(t, (<-r).Err)
	}

	calls := store.log()
	require.Len(t, calls, 9)
	assert.Equal(t, "deleteAll", calls[8])
}

func TestGlobalPayloads(t *testing.T) {
	store := &fakeStore{}
	p := newPool(t, store, 2)
	ctx := context.Background()

	resp, err := p.Do(ctx, worker.Request{Action: worker.ActionListFiles})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv"}, resp.Files)

	resp, err = p.Do(ctx, worker.Request{Action: worker.ActionExportAll})
	require.NoError(t, err)
	assert.Equal(t, "zip", string(resp.Data))
	assert.Equal(t, 2, resp.Rows)

	_, err = p.Do(ctx, worker.Request{Action: worker.ActionSetSelectedChannels, Channels: []int{1, 3}})
	require.NoError(t, err)
	store.mu.Lock()
	assert.Equal(t, []int{1, 3}, store.selected)
	store.mu.Unlock()
}

func TestExportEDFWritesToOutput(t *testing.T) {
	store := &fakeStore{}
	p := newPool(t, store, 2)

	out, err := os.CreateTemp(t.TempDir(), "export-*.edf")
	require.NoError(t, err)
	defer out.Close()

	_, err = p.Do(context.Background(), worker.Request{
		Action:       worker.ActionExportEDF,
		Filename:     "a.csv",
		SamplingRate: 250,
		Output:       out,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"edf a.csv"}, store.log())

	raw, err := os.ReadFile(out.Name())
	require.NoError(t, err)
	assert.Equal(t, "edf 250", string(raw))
}

func TestErrorsAreTagged(t *testing.T) {
	store := &fakeStore{failOn: "delete gone.csv"}
	p := newPool(t, store, 2)

	resp, err := p.Do(context.Background(), worker.Request{Action: worker.ActionDeleteOne, Filename: "gone.csv"})
	require.Error(t, err)
	assert.Equal(t, worker.ActionDeleteOne, resp.Action)
	assert.Equal(t, "gone.csv", resp.Filename)
	assert.Equal(t, err, resp.Err)
}

func TestFlush(t *testing.T) {
	store := &fakeStore{failOn: "append bad.csv 0"}
	p := newPool(t, store, 2)

	assert.NoError(t, <-p.Flush(context.Background(), "good.csv", []sample.Row{{0}}))
	assert.Error(t, <-p.Flush(context.Background(), "bad.csv", []sample.Row{{0}}))
}

func TestRejectsInvalidRequests(t *testing.T) {
	p := newPool(t, &fakeStore{}, 1)

	_, err := p.Submit(worker.Request{Action: worker.ActionExportOne})
	assert.ErrorIs(t, err, worker.ErrInvalidRequest)
	_, err = p.Submit(worker.Request{Action: "compact"})
	assert.ErrorIs(t, err, worker.ErrInvalidRequest)
	_, err = p.Submit(worker.Request{Action: worker.ActionExportEDF, Filename: "a.csv", SamplingRate: 500})
	assert.ErrorIs(t, err, worker.ErrInvalidRequest)
}

func TestCancelledRequestIsNotRun(t *testing.T) {
	store := &fakeStore{}
	p := newPool(t, store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reply, err := p.Submit(worker.Request{Ctx: ctx, Action: worker.ActionDeleteOne, Filename: "x.csv"})
	require.NoError(t, err)
	resp := <-reply
	assert.ErrorIs(t, resp.Err, context.Canceled)
	assert.Empty(t, store.log())
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := worker.NewPool(&fakeStore{}, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.Start()
	p.Shutdown()
	p.Shutdown()

	_, err := p.Submit(worker.Request{Action: worker.ActionListFiles})
	assert.ErrorIs(t, err, worker.ErrPoolClosed)
	assert.ErrorIs(t, <-p.Flush(context.Background(), "a.csv", []sample.Row{{0}}), worker.ErrPoolClosed)
}
