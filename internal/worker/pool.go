// Package worker runs storage requests off the acquisition path. Requests for
// the same filename are executed strictly in submission order; requests that
// span every recording wait for all earlier requests to finish.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtiwari1/exgstream/internal/export"
	"github.com/mtiwari1/exgstream/internal/sample"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker: pool closed")

// Store is the storage engine surface the pool drives.
type Store interface {
	SetSelectedChannels(channels []int)
	Append(ctx context.Context, filename string, rows []sample.Row) error
	ListFilenames(ctx context.Context) ([]string, error)
	ExportOne(ctx context.Context, filename string, w io.Writer) (export.CSVResult, error)
	ExportAllAsArchive(ctx context.Context, w io.Writer) (int, error)
	ExportEDF(ctx context.Context, filename string, w io.WriteSeeker, samplingRate int) error
	DeleteOne(ctx context.Context, filename string) error
	DeleteAll(ctx context.Context) error
}

// Pool owns a fixed set of shard goroutines. Each shard drains its own FIFO
// queue, and a filename always hashes to the same shard.
type Pool struct {
	store  Store
	shards []chan task
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex // guards closed against concurrent sends
	closed bool
	global sync.Mutex // orders barrier insertion across shards
}

type task struct {
	req     Request
	reply   chan Response
	barrier *barrier
}

// barrier parks every shard until a global request has run.
type barrier struct {
	arrived sync.WaitGroup
	release chan struct{}
}

// NewPool creates a pool with the given number of shards.
// Call Start() to launch the goroutines.
func NewPool(store Store, shards int, logger *slog.Logger) *Pool {
	if shards < 1 {
		shards = 1
	}
	p := &Pool{
		store:  store,
		shards: make([]chan task, shards),
		logger: logger,
	}
	for i := range p.shards {
		p.shards[i] = make(chan task, 16)
	}
	return p
}

// Start launches one goroutine per shard.
func (p *Pool) Start() {
	for i := range p.shards {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues req and returns the channel its single Response will be
// delivered on. It blocks while the target queue is full (backpressure).
// A request without an ID is given one.
func (p *Pool) Submit(req Request) (<-chan Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Ctx == nil {
		req.Ctx = context.Background()
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	reply := make(chan Response, 1)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	if !req.Action.global() {
		p.shards[p.shardFor(req.Filename)] <- task{req: req, reply: reply}
		return reply, nil
	}

	b := &barrier{release: make(chan struct{})}
	b.arrived.Add(len(p.shards))
	p.global.Lock()
	for _, q := range p.shards {
		q <- task{barrier: b}
	}
	p.global.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		b.arrived.Wait()
		reply <- p.process(-1, req)
		close(b.release)
	}()
	return reply, nil
}

// Do submits req and waits for its response or for ctx to end.
func (p *Pool) Do(ctx context.Context, req Request) (Response, error) {
	if req.Ctx == nil {
		req.Ctx = ctx
	}
	reply, err := p.Submit(req)
	if err != nil {
		return Response{}, err
	}
	select {
	case resp := <-reply:
		return resp, resp.Err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Flush appends rows to filename in the background. The returned channel
// yields the outcome exactly once.
func (p *Pool) Flush(ctx context.Context, filename string, rows []sample.Row) <-chan error {
	done := make(chan error, 1)
	reply, err := p.Submit(Request{Ctx: ctx, Action: ActionAppend, Filename: filename, Rows: rows})
	if err != nil {
		done <- err
		return done
	}
	go func() { done <- (<-reply).Err }()
	return done
}

// Shutdown stops accepting requests, lets every queued request finish, and
// waits for the shard goroutines to exit. Safe to call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, q := range p.shards {
			close(q)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) shardFor(filename string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(filename))
	return int(h.Sum32() % uint32(len(p.shards)))
}

// worker is the goroutine body of one shard.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for t := range p.shards[id] {
		if t.barrier != nil {
			t.barrier.arrived.Done()
			<-t.barrier.release
			continue
		}
		t.reply <- p.process(id, t.req)
	}
	p.logger.Debug("worker exiting", slog.Int("worker_id", id))
}

// process runs a single request against the store. It respects the request's
// context for cancellation before any work starts.
func (p *Pool) process(workerID int, req Request) Response {
	resp := Response{ID: req.ID, Action: req.Action, Filename: req.Filename}

	if err := req.Ctx.Err(); err != nil {
		resp.Err = fmt.Errorf("request cancelled before processing: %w", err)
		return resp
	}

	start := time.Now()
	switch req.Action {
	case ActionSetSelectedChannels:
		p.store.SetSelectedChannels(req.Channels)
	case ActionAppend:
		resp.Err = p.store.Append(req.Ctx, req.Filename, req.Rows)
		resp.Rows = len(req.Rows)
	case ActionListFiles:
		resp.Files, resp.Err = p.store.ListFilenames(req.Ctx)
	case ActionExportOne:
		var buf bytes.Buffer
		var res export.CSVResult
		res, resp.Err = p.store.ExportOne(req.Ctx, req.Filename, &buf)
		resp.Rows = res.Rows
		resp.Data = buf.Bytes()
	case ActionExportAll:
		var buf bytes.Buffer
		resp.Rows, resp.Err = p.store.ExportAllAsArchive(req.Ctx, &buf)
		resp.Data = buf.Bytes()
	case ActionExportEDF:
		resp.Err = p.store.ExportEDF(req.Ctx, req.Filename, req.Output, req.SamplingRate)
	case ActionDeleteOne:
		resp.Err = p.store.DeleteOne(req.Ctx, req.Filename)
	case ActionDeleteAll:
		resp.Err = p.store.DeleteAll(req.Ctx)
	}
	latency := time.Since(start)

	if resp.Err != nil {
		resp.Data = nil
		p.logger.Error("storage request failed",
			slog.Int("worker_id", workerID),
			slog.String("request_id", req.ID),
			slog.String("action", string(req.Action)),
			slog.String("filename", req.Filename),
			slog.Duration("latency", latency),
			slog.String("error", resp.Err.Error()),
		)
		return resp
	}

	p.logger.Debug("storage request completed",
		slog.Int("worker_id", workerID),
		slog.String("request_id", req.ID),
		slog.String("action", string(req.Action)),
		slog.String("filename", req.Filename),
		slog.Int("rows", resp.Rows),
		slog.Duration("latency", latency),
	)
	return resp
}
