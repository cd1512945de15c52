package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mtiwari1/exgstream/internal/device"
	"github.com/mtiwari1/exgstream/internal/filter"
	"github.com/mtiwari1/exgstream/internal/recording"
)

// stopTimeout bounds the best-effort recording flush on disconnect.
const stopTimeout = 10 * time.Second

var (
	// ErrNotConnected is returned by operations that need a live device.
	ErrNotConnected = errors.New("acquisition: not connected")
	// ErrAlreadyConnected is returned by Connect while a link is active.
	ErrAlreadyConnected = errors.New("acquisition: already connected")
)

// Link is an open transport to one device.
type Link interface {
	// Configuration is the device layout established while connecting.
	Configuration() device.Configuration
	// Run feeds the session until ctx ends or the transport fails.
	Run(ctx context.Context, s *Session) error
	// Close releases the transport. It must unblock a pending Run.
	Close() error
}

// Connector opens links.
type Connector interface {
	Connect(ctx context.Context) (Link, error)
}

// ConnState is the controller's connection state.
type ConnState string

// Connection states.
const (
	Disconnected ConnState = "disconnected"
	Connecting   ConnState = "connecting"
	Connected    ConnState = "connected"
)

// Status is a snapshot for the control API.
type Status struct {
	State     ConnState             `json:"state"`
	Device    *device.Configuration `json:"device,omitempty"`
	Battery   *uint8                `json:"battery,omitempty"`
	Stats     *Stats                `json:"stats,omitempty"`
	LastError string                `json:"last_error,omitempty"`
}

type conn struct {
	link      Link
	session   *Session
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (c *conn) close() error {
	c.closeOnce.Do(func() { c.closeErr = c.link.Close() })
	return c.closeErr
}

// Controller connects a transport to a fresh Session and tears it down again.
// Filter selections survive reconnects; filter state does not.
type Controller struct {
	connector Connector
	recorder  *recording.Recorder
	sinks     []Sink
	logger    *slog.Logger

	mu      sync.Mutex
	state   ConnState
	conn    *conn
	filters map[int]filter.Settings
	lastErr error
}

// NewController wires a connector to the pipeline consumers. recorder may be nil.
func NewController(connector Connector, recorder *recording.Recorder, sinks []Sink, logger *slog.Logger) *Controller {
	return &Controller{
		connector: connector,
		recorder:  recorder,
		sinks:     sinks,
		logger:    logger,
		state:     Disconnected,
		filters:   make(map[int]filter.Settings),
	}
}

// Connect opens the transport, builds a session for the device's
// configuration and starts decoding in the background.
func (c *Controller) Connect(ctx context.Context) (device.Configuration, error) {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return device.Configuration{}, ErrAlreadyConnected
	}
	c.state = Connecting
	c.mu.Unlock()

	cfg, cn, err := c.open(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Error("connect failed", slog.String("error", err.Error()))
		return device.Configuration{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cn.cancel = cancel

	c.mu.Lock()
	c.conn = cn
	c.state = Connected
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info("device connected",
		slog.String("device", cfg.Name),
		slog.Int("channels", cfg.ChannelCount),
		slog.Int("sampling_rate", cfg.SamplingRate),
		slog.Int("adc_bits", cfg.ADCResolutionBits),
	)

	go c.run(runCtx, cn)
	return cfg, nil
}

func (c *Controller) open(ctx context.Context) (device.Configuration, *conn, error) {
	link, err := c.connector.Connect(ctx)
	if err != nil {
		return device.Configuration{}, nil, fmt.Errorf("connect: %w", err)
	}
	cfg := link.Configuration()

	var rec RowRecorder
	if c.recorder != nil {
		rec = c.recorder
	}
	session, err := NewSession(cfg, rec, c.sinks, c.logger)
	if err != nil {
		_ = link.Close()
		return device.Configuration{}, nil, fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	for ch, st := range c.filters {
		if ch <= cfg.ChannelCount {
			_ = session.Filters().Apply(ch, st)
		}
	}
	c.mu.Unlock()

	return cfg, &conn{link: link, session: session, done: make(chan struct{})}, nil
}

// run drives the link and performs the teardown once decoding has stopped:
// flush the partial recording, release the transport, drop the session.
func (c *Controller) run(ctx context.Context, cn *conn) {
	defer close(cn.done)

	err := cn.link.Run(ctx, cn.session)
	var cause error
	if ctx.Err() == nil && err != nil {
		cause = err
		c.logger.Error("transport failed", slog.String("error", err.Error()))
	}
	cn.cancel()

	if c.recorder != nil && c.recorder.Recording() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if _, err := c.recorder.Stop(stopCtx); err != nil {
			c.logger.Error("flush on disconnect failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	if err := cn.close(); err != nil {
		c.logger.Warn("transport close failed", slog.String("error", err.Error()))
	}

	st := cn.session.Stats()
	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
		c.state = Disconnected
		c.lastErr = cause
	}
	c.mu.Unlock()

	c.logger.Info("device disconnected",
		slog.Uint64("frames", st.Frames),
		slog.Uint64("framing_errors", st.FramingErrors),
		slog.Uint64("sequence_gaps", st.SequenceGaps),
	)
}

// Disconnect stops decoding, releases the transport and waits for the
// teardown to finish or for ctx to end.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		return ErrNotConnected
	}

	cn.cancel()
	_ = cn.close()

	select {
	case <-cn.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("disconnect: %w", ctx.Err())
	}
}

// Done returns a channel closed when the current connection ends, or nil
// when disconnected.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.done
}

// SetFilter changes one channel's stage selection. It is remembered for
// later connections and applied immediately when connected.
func (c *Controller) SetFilter(channel int, st filter.Settings) error {
	if channel < 1 {
		return fmt.Errorf("set filter: invalid channel %d", channel)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if err := c.conn.session.Filters().Apply(channel, st); err != nil {
			return fmt.Errorf("set filter: %w", err)
		}
	}
	c.filters[channel] = st
	c.logger.Info("filter changed",
		slog.Int("channel", channel),
		slog.Bool("high_pass", st.HighPass),
		slog.String("exg", st.EXG.String()),
		slog.Int("notch", int(st.Notch)),
	)
	return nil
}

// Filter returns the selection for channel.
func (c *Controller) Filter(channel int) filter.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.filters[channel]; ok {
		return st
	}
	return filter.DefaultSettings()
}

// Status reports connection state, device, battery and pipeline counters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.conn != nil {
		cfg := c.conn.session.Config()
		stats := c.conn.session.Stats()
		st.Device = &cfg
		st.Stats = &stats
		if level, ok := c.conn.session.Battery(); ok {
			st.Battery = &level
		}
	}
	return st
}
