// Package acquisition turns transport bytes into filtered sample rows. A
// Session owns the per-connection state (configuration, filter bank, sequence
// tracker) and runs the pipeline; a Controller manages connect and disconnect.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtiwari1/exgstream/internal/device"
	"github.com/mtiwari1/exgstream/internal/filter"
	"github.com/mtiwari1/exgstream/internal/frame"
	"github.com/mtiwari1/exgstream/internal/recording"
	"github.com/mtiwari1/exgstream/internal/sample"
	"github.com/mtiwari1/exgstream/internal/sequence"
)

const readBufferSize = 4096

// Sink consumes every filtered row. The row is only valid for the duration
// of the call.
type Sink interface {
	Consume(row sample.Row)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(row sample.Row)

// Consume calls f(row).
func (f SinkFunc) Consume(row sample.Row) { f(row) }

// RowRecorder receives rows while a recording is active.
type RowRecorder interface {
	Recording() bool
	Append(row sample.Row) error
}

// Stats are the pipeline counters of one session.
type Stats struct {
	Frames           uint64  `json:"frames"`
	FramingErrors    uint64  `json:"framing_errors"`
	SequenceGaps     uint64  `json:"sequence_gaps"`
	DroppedSamples   uint64  `json:"dropped_samples"`
	Resyncs          uint64  `json:"resyncs"`
	NoiseBytes       uint64  `json:"noise_bytes"`
	SamplesPerSecond float64 `json:"samples_per_second"`
}

// Session is one connection's pipeline state. Frames must be fed from a single
// goroutine; Stats, Battery and the filter bank are safe to use concurrently.
type Session struct {
	config   device.Configuration
	bank     *filter.Bank
	tracker  sequence.Tracker
	sinks    []Sink
	recorder RowRecorder
	logger   *slog.Logger
	started  time.Time

	row    sample.Row
	frames []sample.Frame

	streamMu sync.Mutex
	stream   *frame.StreamDecoder
	notify   *frame.NotificationDecoder

	nFrames  atomic.Uint64
	nFraming atomic.Uint64
	nGaps    atomic.Uint64
	nDropped atomic.Uint64
	battery  atomic.Int32
}

// NewSession validates cfg and builds a fresh filter bank for it. recorder
// may be nil.
func NewSession(cfg device.Configuration, recorder RowRecorder, sinks []Sink, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bank, err := filter.NewBank(cfg.ChannelCount, cfg.SamplingRate, cfg.ADCResolutionBits)
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	s := &Session{
		config:   cfg,
		bank:     bank,
		sinks:    sinks,
		recorder: recorder,
		logger:   logger,
		started:  time.Now(),
		row:      make(sample.Row, 0, cfg.ChannelCount+1),
		stream:   frame.NewStreamDecoder(cfg.ChannelCount),
		notify:   frame.NewNotificationDecoder(cfg.ChannelCount, cfg.Blocks()),
	}
	s.battery.Store(-1)
	return s, nil
}

// Config returns the configuration the session was built for.
func (s *Session) Config() device.Configuration { return s.config }

// Filters exposes the session's filter bank.
func (s *Session) Filters() *filter.Bank { return s.bank }

// Process runs one decoded frame through the pipeline: sequence check,
// per-channel filtering, delivery to sinks, and recording.
func (s *Session) Process(f sample.Frame) {
	if res := s.tracker.Observe(f.Counter); res.Gap {
		s.nGaps.Add(1)
		s.nDropped.Add(uint64(res.Dropped()))
		s.logger.Warn("sequence gap",
			slog.Int("expected", int(res.Expected)),
			slog.Int("got", int(res.Got)),
			slog.Int("dropped", res.Dropped()),
		)
	}

	s.row = append(s.row[:0], int32(f.Counter))
	s.row = s.bank.ProcessInto(s.row, f.Values)
	s.nFrames.Add(1)

	for _, sink := range s.sinks {
		sink.Consume(s.row)
	}
	if s.recorder != nil && s.recorder.Recording() {
		// A session stopped between the two calls is not an error.
		if err := s.recorder.Append(s.row); err != nil && !errors.Is(err, recording.ErrNotRecording) {
			s.logger.Warn("row not recorded", slog.String("error", err.Error()))
		}
	}
}

// HandleNotification decodes one length-exact payload. On devices with a
// battery channel a single-byte payload is a battery report. A payload of the
// wrong length is dropped and reported.
func (s *Session) HandleNotification(payload []byte) error {
	if s.config.HasBatteryChannel && len(payload) == 1 {
		level, err := device.ParseBattery(payload)
		if err != nil {
			return err
		}
		s.battery.Store(int32(level))
		return nil
	}

	var err error
	s.frames, err = s.notify.Decode(s.frames[:0], payload)
	if err != nil {
		s.nFraming.Add(1)
		s.logger.Warn("notification dropped",
			slog.Int("length", len(payload)),
			slog.String("error", err.Error()),
		)
		return err
	}
	for _, f := range s.frames {
		s.Process(f)
	}
	return nil
}

// HandleBytes feeds a chunk of a sync-delimited stream.
func (s *Session) HandleBytes(p []byte) {
	s.streamMu.Lock()
	s.frames = s.stream.Decode(s.frames[:0], p)
	s.streamMu.Unlock()

	for _, f := range s.frames {
		s.Process(f)
	}
}

// RunStream reads a sync-delimited byte stream until ctx ends, the reader
// reports EOF, or a read fails. Closing the reader is how a blocked read is
// interrupted.
func (s *Session) RunStream(ctx context.Context, r io.Reader) error {
	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			s.HandleBytes(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

// RunNotifications consumes length-exact payloads until ctx ends or the
// channel is closed. Framing errors are counted and do not stop the loop.
func (s *Session) RunNotifications(ctx context.Context, notes <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-notes:
			if !ok {
				return nil
			}
			_ = s.HandleNotification(p)
		}
	}
}

// Battery returns the last reported battery percentage and whether one has
// been received.
func (s *Session) Battery() (uint8, bool) {
	v := s.battery.Load()
	if v < 0 {
		return 0, false
	}
	return uint8(v), true
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.streamMu.Lock()
	ds := s.stream.Stats()
	s.streamMu.Unlock()

	st := Stats{
		Frames:         s.nFrames.Load(),
		FramingErrors:  s.nFraming.Load() + ds.Resyncs,
		SequenceGaps:   s.nGaps.Load(),
		DroppedSamples: s.nDropped.Load(),
		Resyncs:        ds.Resyncs,
		NoiseBytes:     ds.NoiseBytes,
	}
	if elapsed := time.Since(s.started).Seconds(); elapsed > 0 {
		st.SamplesPerSecond = float64(st.Frames) / elapsed
	}
	return st
}
