package acquisition_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtiwari1/exgstream/internal/acquisition"
	"github.com/mtiwari1/exgstream/internal/device"
	"github.com/mtiwari1/exgstream/internal/filter"
	"github.com/mtiwari1/exgstream/internal/frame"
	"github.com/mtiwari1/exgstream/internal/recording"
	"github.com/mtiwari1/exgstream/internal/sample"
)

type pipeLink struct {
	cfg    device.Configuration
	r      *io.PipeReader
	w      *io.PipeWriter
	closed chan struct{}
	once   sync.Once
}

func (l *pipeLink) Configuration() device.Configuration { return l.cfg }

func (l *pipeLink) Run(ctx context.Context, s *acquisition.Session) error {
	return s.RunStream(ctx, l.r)
}

func (l *pipeLink) Close() error {
	l.once.Do(func() {
		close(l.closed)
		_ = l.r.Close()
	})
	return nil
}

type pipeConnector struct {
	cfg   device.Configuration
	err   error
	links chan *pipeLink
}

func (c *pipeConnector) Connect(context.Context) (acquisition.Link, error) {
	if c.err != nil {
		return nil, c.err
	}
	r, w := io.Pipe()
	l := &pipeLink{cfg: c.cfg, r: r, w: w, closed: make(chan struct{})}
	c.links <- l
	return l, nil
}

type memFlusher struct {
	mu   sync.Mutex
	rows int
}

func (f *memFlusher) Flush(_ context.Context, _ string, rows []sample.Row) <-chan error {
	f.mu.Lock()
	f.rows += len(rows)
	f.mu.Unlock()
	done := make(chan error, 1)
	done <- nil
	return done
}

func (f *memFlusher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows
}

func writePackets(t *testing.T, w io.Writer, from, n int) {
	t.Helper()
	var b []byte
	for i := from; i < from+n; i++ {
		b = frame.AppendPacket(b, uint8(i), []int16{10, 20, 30})
	}
	_, err := w.Write(b)
	require.NoError(t, err)
}

func TestControllerLifecycle(t *testing.T) {
	conn := &pipeConnector{cfg: threeChannels(), links: make(chan *pipeLink, 1)}
	flusher := &memFlusher{}
	rec := recording.NewRecorder(flusher, discard())
	sink := &collector{}
	c := acquisition.NewController(conn, rec, []acquisition.Sink{sink}, discard())

	assert.Equal(t, acquisition.Disconnected, c.Status().State)
	assert.ErrorIs(t, c.Disconnect(context.Background()), acquisition.ErrNotConnected)

	require.NoError(t, c.SetFilter(2, filter.Settings{}))
	cfg, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.ChannelCount)
	link := <-conn.links

	_, err = c.Connect(context.Background())
	assert.ErrorIs(t, err, acquisition.ErrAlreadyConnected)

	_, err = rec.Start(recording.Options{})
	require.NoError(t, err)
	writePackets(t, link.w, 0, 20)

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 20 }, time.Second, time.Millisecond)
	st := c.Status()
	assert.Equal(t, acquisition.Connected, st.State)
	require.NotNil(t, st.Stats)
	assert.Equal(t, uint64(20), st.Stats.Frames)
	require.NotNil(t, st.Device)
	assert.Equal(t, 500, st.Device.SamplingRate)

	// Channel 2 has every stage off and passes the raw value.
	assert.Equal(t, int32(20), sink.snapshot()[19][2])

	require.NoError(t, c.Disconnect(context.Background()))
	assert.Equal(t, acquisition.Disconnected, c.Status().State)
	assert.False(t, rec.Recording())
	assert.Equal(t, 20, flusher.total())
	assert.Empty(t, c.Status().LastError)

	select {
	case <-link.closed:
	default:
		t.Fatal("transport not released")
	}
	assert.Equal(t, filter.Settings{}, c.Filter(2))
	assert.Equal(t, filter.DefaultSettings(), c.Filter(1))
}

func TestControllerTransportFailure(t *testing.T) {
	conn := &pipeConnector{cfg: threeChannels(), links: make(chan *pipeLink, 1)}
	c := acquisition.NewController(conn, nil, nil, discard())

	_, err := c.Connect(context.Background())
	require.NoError(t, err)
	link := <-conn.links
	done := c.Done()
	require.NotNil(t, done)

	_ = link.w.CloseWithError(errors.New("cable pulled"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("controller did not notice the transport failure")
	}

	st := c.Status()
	assert.Equal(t, acquisition.Disconnected, st.State)
	assert.Contains(t, st.LastError, "cable pulled")

	// A new connection starts from a clean session.
	_, err = c.Connect(context.Background())
	require.NoError(t, err)
	<-conn.links
	require.NoError(t, c.Disconnect(context.Background()))
}

func TestControllerConnectFailure(t *testing.T) {
	conn := &pipeConnector{err: errors.New("no such port")}
	c := acquisition.NewController(conn, nil, nil, discard())

	_, err := c.Connect(context.Background())
	require.Error(t, err)
	st := c.Status()
	assert.Equal(t, acquisition.Disconnected, st.State)
	assert.Contains(t, st.LastError, "no such port")
}

func TestControllerRejectsBadFilterChannel(t *testing.T) {
	conn := &pipeConnector{cfg: threeChannels(), links: make(chan *pipeLink, 1)}
	c := acquisition.NewController(conn, nil, nil, discard())
	assert.Error(t, c.SetFilter(0, filter.Settings{}))

	_, err := c.Connect(context.Background())
	require.NoError(t, err)
	<-conn.links
	assert.Error(t, c.SetFilter(4, filter.Settings{}))
	require.NoError(t, c.Disconnect(context.Background()))
}
