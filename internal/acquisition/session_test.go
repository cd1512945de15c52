package acquisition_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtiwari1/exgstream/internal/acquisition"
	"github.com/mtiwari1/exgstream/internal/device"
	"github.com/mtiwari1/exgstream/internal/filter"
	"github.com/mtiwari1/exgstream/internal/frame"
	"github.com/mtiwari1/exgstream/internal/sample"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collector struct {
	mu   sync.Mutex
	rows []sample.Row
}

func (c *collector) Consume(row sample.Row) {
	c.mu.Lock()
	c.rows = append(c.rows, append(sample.Row(nil), row...))
	c.mu.Unlock()
}

func (c *collector) snapshot() []sample.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sample.Row(nil), c.rows...)
}

func threeChannels() device.Configuration {
	return device.Configuration{
		Name:              "test",
		ChannelCount:      3,
		BlockCount:        10,
		SamplingRate:      500,
		ADCResolutionBits: 12,
	}
}

func newSession(t *testing.T, cfg device.Configuration, rec acquisition.RowRecorder) (*acquisition.Session, *collector) {
	t.Helper()
	c := &collector{}
	s, err := acquisition.NewSession(cfg, rec, []acquisition.Sink{c}, discard())
	require.NoError(t, err)
	s.Filters().ApplyAll(filter.Settings{})
	return s, c
}

func TestSerialStreamEndToEnd(t *testing.T) {
	s, c := newSession(t, threeChannels(), nil)

	var stream []byte
	for i := 0; i < 12; i++ {
		stream = frame.AppendPacket(stream, uint8(i), []int16{100, 100, 100})
	}
	require.NoError(t, s.RunStream(context.Background(), bytes.NewReader(stream)))

	rows := c.snapshot()
	require.Len(t, rows, 12)
	for i, r := range rows {
		assert.Equal(t, sample.Row{int32(i), 100, 100, 100}, r)
	}
	st := s.Stats()
	assert.Equal(t, uint64(12), st.Frames)
	assert.Zero(t, st.SequenceGaps)
	assert.Zero(t, st.FramingErrors)
}

func TestSerialStreamSplitReads(t *testing.T) {
	s, c := newSession(t, threeChannels(), nil)

	var stream []byte
	stream = append(stream, 0x00, 0x13)
	for i := 0; i < 5; i++ {
		stream = frame.AppendPacket(stream, uint8(i), []int16{1, -2, 3})
	}
	for i := 0; i < len(stream); i += 3 {
		s.HandleBytes(stream[i:min(i+3, len(stream))])
	}
	assert.Len(t, c.snapshot(), 5)
	assert.Equal(t, uint64(2), s.Stats().NoiseBytes)
}

func TestBatchedNotification(t *testing.T) {
	s, c := newSession(t, threeChannels(), nil)

	var payload []byte
	for i := 0; i < 10; i++ {
		payload = frame.AppendRecord(payload, uint8(i), []int16{int16(i), 2, 3})
	}
	require.Len(t, payload, 70)
	require.NoError(t, s.HandleNotification(payload))

	rows := c.snapshot()
	require.Len(t, rows, 10)
	assert.Equal(t, sample.Row{9, 9, 2, 3}, rows[9])
}

func TestBatchedNotificationDefaultBlockCount(t *testing.T) {
	cfg := threeChannels()
	cfg.BlockCount = 0
	s, c := newSession(t, cfg, nil)

	var payload []byte
	for i := 0; i < device.DefaultBlockCount; i++ {
		payload = frame.AppendRecord(payload, uint8(i), []int16{1, 2, 3})
	}
	require.Len(t, payload, cfg.BatchLength())
	require.NoError(t, s.HandleNotification(payload))
	assert.Len(t, c.snapshot(), device.DefaultBlockCount)
}

func TestBadNotificationIsDropped(t *testing.T) {
	s, c := newSession(t, threeChannels(), nil)

	err := s.HandleNotification(make([]byte, 9))
	assert.ErrorIs(t, err, frame.ErrUnexpectedLength)
	assert.Empty(t, c.snapshot())
	assert.Equal(t, uint64(1), s.Stats().FramingErrors)

	require.NoError(t, s.HandleNotification(frame.AppendRecord(nil, 0, []int16{1, 2, 3})))
	assert.Len(t, c.snapshot(), 1)
}

func TestBatteryNotification(t *testing.T) {
	s, _ := newSession(t, device.FromName("NPG-BLE-3CH"), nil)

	_, ok := s.Battery()
	assert.False(t, ok)

	require.NoError(t, s.HandleNotification([]byte{87}))
	level, ok := s.Battery()
	assert.True(t, ok)
	assert.Equal(t, uint8(87), level)
}

func TestSequenceGapsAreCounted(t *testing.T) {
	s, c := newSession(t, threeChannels(), nil)

	for _, counter := range []uint8{10, 11, 14, 15, 16} {
		s.Process(sample.Frame{Counter: counter, Values: []int16{0, 0, 0}})
	}
	st := s.Stats()
	assert.Equal(t, uint64(1), st.SequenceGaps)
	assert.Equal(t, uint64(2), st.DroppedSamples)
	assert.Len(t, c.snapshot(), 5)
}

func TestRunNotificationsStopsOnClose(t *testing.T) {
	s, c := newSession(t, threeChannels(), nil)

	notes := make(chan []byte, 3)
	notes <- frame.AppendRecord(nil, 0, []int16{1, 1, 1})
	notes <- []byte{1, 2}
	notes <- frame.AppendRecord(nil, 1, []int16{2, 2, 2})
	close(notes)

	require.NoError(t, s.RunNotifications(context.Background(), notes))
	assert.Len(t, c.snapshot(), 2)
	assert.Equal(t, uint64(1), s.Stats().FramingErrors)
}

func TestRunNotificationsHonoursContext(t *testing.T) {
	s, _ := newSession(t, threeChannels(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.RunNotifications(ctx, make(chan []byte)), context.Canceled)
}

func TestNewSessionValidates(t *testing.T) {
	_, err := acquisition.NewSession(device.Configuration{}, nil, nil, discard())
	assert.ErrorIs(t, err, device.ErrInvalidConfiguration)
}

type rowRecorder struct {
	on   bool
	rows []sample.Row
}

func (r *rowRecorder) Recording() bool { return r.on }

func (r *rowRecorder) Append(row sample.Row) error {
	r.rows = append(r.rows, append(sample.Row(nil), row...))
	return nil
}

func TestRowsRecordedOnlyWhileRecording(t *testing.T) {
	rec := &rowRecorder{}
	s, c := newSession(t, threeChannels(), rec)

	s.Process(sample.Frame{Counter: 0, Values: []int16{5, 6, 7}})
	rec.on = true
	s.Process(sample.Frame{Counter: 1, Values: []int16{8, 9, 10}})

	assert.Len(t, c.snapshot(), 2)
	require.Len(t, rec.rows, 1)
	assert.Equal(t, sample.Row{1, 8, 9, 10}, rec.rows[0])
}
