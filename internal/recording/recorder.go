// Package recording buffers pipeline rows into a small ring of fixed-size
// slabs while a recording is active and hands full slabs to storage.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtiwari1/exgstream/internal/sample"
)

const (
	// SlabCapacity is the number of rows a slab holds before it is flushed.
	SlabCapacity = 500
	// SlabCount is the size of the slab ring.
	SlabCount = 4
	// DefaultPrefix names recordings when no prefix is given.
	DefaultPrefix = "ExG"

	filenameLayout = "20060102-150405"
)

var (
	// ErrNotRecording is returned by Stop and Append while idle.
	ErrNotRecording = errors.New("recording: not recording")
	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("recording: already recording")
)

// Flusher persists one slab's rows. The returned channel yields the outcome
// once; the rows must not be retained after that.
type Flusher interface {
	Flush(ctx context.Context, filename string, rows []sample.Row) <-chan error
}

// State of the recorder.
type State int

// Recorder states.
const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// Options configure one recording session.
type Options struct {
	Prefix   string        // filename prefix; DefaultPrefix when empty
	Duration time.Duration // stop automatically after this long; zero means no limit
}

// Status is a snapshot of the recorder.
type Status struct {
	State     State     `json:"-"`
	StateName string    `json:"state"`
	Filename  string    `json:"filename,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndAt     time.Time `json:"end_at,omitempty"`
	Rows      int       `json:"rows"`
	Channels  []int     `json:"selected_channels"`
}

// Stats are cumulative counters across sessions.
type Stats struct {
	RowsRecorded uint64 `json:"rows_recorded"`
	Flushes      uint64 `json:"flushes"`
	FlushErrors  uint64 `json:"flush_errors"`
	SlabWaits    uint64 `json:"slab_waits"`
}

// Summary describes a finished session.
type Summary struct {
	Filename string        `json:"filename"`
	Rows     int           `json:"rows"`
	Duration time.Duration `json:"duration"`
}

type slab struct {
	rows  []sample.Row
	arena []int32
	ready chan struct{} // closed when the in-flight flush has finished; nil when free
}

type session struct {
	filename  string
	startedAt time.Time
	endAt     time.Time
	slabs     [SlabCount]slab
	active    int
	rows      int
	timer     *time.Timer
}

// Recorder is the Idle → Recording → Idle state machine. A slab is reused
// only after its previous flush has completed; Append blocks when all slabs
// are still in flight.
type Recorder struct {
	flusher  Flusher
	logger   *slog.Logger
	now      func() time.Time
	flushCtx context.Context

	mu          sync.Mutex
	session     *session
	selected    []int
	outstanding []chan struct{}
	lastName    string

	rowsRecorded atomic.Uint64
	flushes      atomic.Uint64
	flushErrors  atomic.Uint64
	slabWaits    atomic.Uint64
}

// NewRecorder returns an idle recorder that flushes through f.
func NewRecorder(f Flusher, logger *slog.Logger) *Recorder {
	return &Recorder{
		flusher:  f,
		logger:   logger,
		now:      time.Now,
		flushCtx: context.Background(),
	}
}

// Filename builds Prefix-YYYYMMDD-HHMMSS.csv in local time.
func Filename(prefix string, t time.Time) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "-" + t.Local().Format(filenameLayout) + ".csv"
}

// SetSelectedChannels limits recorded rows to the counter plus channels up to
// the highest selected one. An empty selection records full rows.
func (r *Recorder) SetSelectedChannels(channels []int) {
	sel := make([]int, 0, len(channels))
	for _, c := range channels {
		if c > 0 {
			sel = append(sel, c)
		}
	}
	slices.Sort(sel)
	sel = slices.Compact(sel)

	r.mu.Lock()
	r.selected = sel
	r.mu.Unlock()
}

// Recording reports whether a session is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// Start opens a session and returns its filename.
func (r *Recorder) Start(opts Options) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return "", ErrAlreadyRecording
	}
	if opts.Duration < 0 {
		return "", fmt.Errorf("recording: negative duration %s", opts.Duration)
	}

	now := r.now()
	// A restart within the same second must not append to the previous file.
	name := Filename(opts.Prefix, now)
	for step := now; name == r.lastName; {
		step = step.Add(time.Second)
		name = Filename(opts.Prefix, step)
	}
	r.lastName = name

	s := &session{
		filename:  name,
		startedAt: now,
	}
	for i := range s.slabs {
		s.slabs[i].rows = make([]sample.Row, 0, SlabCapacity)
	}
	if opts.Duration > 0 {
		s.endAt = now.Add(opts.Duration)
		s.timer = time.AfterFunc(opts.Duration, func() { r.expire(s) })
	}
	r.session = s

	r.logger.Info("recording started",
		slog.String("filename", s.filename),
		slog.Duration("duration", opts.Duration),
	)
	return s.filename, nil
}

// Append copies row into the active slab. A full slab is handed to the
// flusher and the next slab in the ring becomes active. Reaching the session's
// duration limit stops the session after the row is stored.
func (r *Recorder) Append(row sample.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if s == nil {
		return ErrNotRecording
	}
	if len(row) == 0 {
		return nil
	}
	if n := len(r.selected); n > 0 {
		row = row.Trim(r.selected[n-1])
	}

	sl := &s.slabs[s.active]
	r.reclaim(sl)

	off := len(sl.arena)
	sl.arena = append(sl.arena, row...)
	sl.rows = append(sl.rows, sl.arena[off:len(sl.arena):len(sl.arena)])
	s.rows++
	r.rowsRecorded.Add(1)

	if len(sl.rows) == SlabCapacity {
		r.handOff(s, sl)
		s.active = (s.active + 1) % SlabCount
	}

	if !s.endAt.IsZero() && !r.now().Before(s.endAt) {
		r.logger.Info("recording duration reached", slog.String("filename", s.filename))
		r.finish()
	}
	return nil
}

// Stop flushes the partial slab, ends the session and waits for every
// outstanding flush or for ctx to end.
func (r *Recorder) Stop(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	if r.session == nil {
		r.mu.Unlock()
		return Summary{}, ErrNotRecording
	}
	sum := r.finish()
	r.mu.Unlock()

	if err := r.Wait(ctx); err != nil {
		return sum, err
	}
	return sum, nil
}

// Wait blocks until every flush handed off so far has completed.
func (r *Recorder) Wait(ctx context.Context) error {
	r.mu.Lock()
	pending := slices.Clone(r.outstanding)
	r.mu.Unlock()

	for _, ready := range pending {
		select {
		case <-ready:
		case <-ctx.Done():
			return fmt.Errorf("recording: waiting for flush: %w", ctx.Err())
		}
	}
	return nil
}

// Status returns a snapshot of the current session.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{State: Idle, Channels: slices.Clone(r.selected)}
	if s := r.session; s != nil {
		st.State = Recording
		st.Filename = s.filename
		st.StartedAt = s.startedAt
		st.EndAt = s.endAt
		st.Rows = s.rows
	}
	st.StateName = st.State.String()
	return st
}

// Stats returns cumulative counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		RowsRecorded: r.rowsRecorded.Load(),
		Flushes:      r.flushes.Load(),
		FlushErrors:  r.flushErrors.Load(),
		SlabWaits:    r.slabWaits.Load(),
	}
}

func (r *Recorder) expire(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != s {
		return
	}
	r.logger.Info("recording duration reached", slog.String("filename", s.filename))
	r.finish()
}

// finish flushes the partially filled slab and returns to Idle.
// Callers hold r.mu.
func (r *Recorder) finish() Summary {
	s := r.session
	if s.timer != nil {
		s.timer.Stop()
	}
	// The active slab may still hold rows of a flush in flight.
	if sl := &s.slabs[s.active]; sl.ready == nil && len(sl.rows) > 0 {
		r.handOff(s, sl)
	}
	r.session = nil

	sum := Summary{Filename: s.filename, Rows: s.rows, Duration: r.now().Sub(s.startedAt)}
	r.logger.Info("recording stopped",
		slog.String("filename", sum.Filename),
		slog.Int("rows", sum.Rows),
		slog.Duration("duration", sum.Duration),
	)
	return sum
}

// handOff passes the slab's rows to the flusher. The slab stays unusable
// until the flush reports back. Callers hold r.mu.
func (r *Recorder) handOff(s *session, sl *slab) {
	rows := sl.rows
	ready := make(chan struct{})
	sl.ready = ready
	done := r.flusher.Flush(r.flushCtx, s.filename, rows)

	go func(filename string, n int) {
		err := <-done
		r.flushes.Add(1)
		if err != nil {
			r.flushErrors.Add(1)
			r.logger.Error("slab flush failed",
				slog.String("filename", filename),
				slog.Int("rows", n),
				slog.String("error", err.Error()),
			)
		} else {
			r.logger.Debug("slab flushed", slog.String("filename", filename), slog.Int("rows", n))
		}
		close(ready)
	}(s.filename, len(rows))

	r.outstanding = slices.DeleteFunc(r.outstanding, isClosed)
	r.outstanding = append(r.outstanding, ready)
}

// reclaim waits for the slab's previous flush and empties it.
// Callers hold r.mu.
func (r *Recorder) reclaim(sl *slab) {
	if sl.ready == nil {
		return
	}
	if !isClosed(sl.ready) {
		r.slabWaits.Add(1)
		r.logger.Warn("all slabs in flight, waiting for storage")
		<-sl.ready
	}
	sl.ready = nil
	sl.rows = sl.rows[:0]
	sl.arena = sl.arena[:0]
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
