// Package transport opens device links: a USB serial board speaking the
// sync-delimited packet format, or BLE notifications relayed over MQTT.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/mtiwari1/exgstream/internal/acquisition"
	"github.com/mtiwari1/exgstream/internal/device"
)

// Serial defaults.
const (
	DefaultBaudRate      = 230400
	DefaultSerialTimeout = 2 * time.Second

	readPoll = 100 * time.Millisecond
	maxReply = 256
)

// Serial commands understood by the boards.
const (
	cmdIdentify = "WHORU\n"
	cmdStart    = "START\n"
	cmdStop     = "STOP\n"
)

// ErrNoReply is returned when the board does not answer WHORU in time.
var ErrNoReply = errors.New("transport: no identification reply")

// Port is the part of a serial port the link needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SerialConfig selects the port and handshake timing.
type SerialConfig struct {
	PortName   string
	BaudRate   int
	Timeout    time.Duration // identification deadline
	StartDelay time.Duration // pause between identification and START
	Catalog    device.Catalog
}

// SerialConnector identifies the board on a serial port and starts streaming.
type SerialConnector struct {
	cfg    SerialConfig
	logger *slog.Logger
	open   func(name string, baud int) (Port, error)
}

// NewSerialConnector applies defaults to cfg.
func NewSerialConnector(cfg SerialConfig, logger *slog.Logger) *SerialConnector {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSerialTimeout
	}
	if cfg.Catalog == nil {
		cfg.Catalog = device.DefaultCatalog()
	}
	return &SerialConnector{cfg: cfg, logger: logger, open: openPort}
}

func openPort(name string, baud int) (Port, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: list ports: %w", err)
	}
	return ports, nil
}

// Connect opens the port, identifies the board and sends START.
func (c *SerialConnector) Connect(ctx context.Context) (acquisition.Link, error) {
	if c.cfg.PortName == "" {
		return nil, errors.New("transport: serial port not configured")
	}
	port, err := c.open(c.cfg.PortName, c.cfg.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", c.cfg.PortName, err)
	}

	board, err := Identify(ctx, port, c.cfg.Catalog, c.cfg.Timeout)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	if board.BaudRate > 0 && board.BaudRate != c.cfg.BaudRate {
		c.logger.Warn("board baud rate differs from port setting",
			slog.String("board", board.ID),
			slog.Int("board_baud", board.BaudRate),
			slog.Int("port_baud", c.cfg.BaudRate),
		)
	}

	if c.cfg.StartDelay > 0 {
		select {
		case <-time.After(c.cfg.StartDelay):
		case <-ctx.Done():
			_ = port.Close()
			return nil, ctx.Err()
		}
	}
	if _, err := io.WriteString(port, cmdStart); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("transport: send start: %w", err)
	}

	c.logger.Info("serial board connected",
		slog.String("port", c.cfg.PortName),
		slog.String("board", board.ID),
		slog.Int("channels", board.ChannelCount),
		slog.Int("sampling_rate", board.SamplingRate),
	)
	return &serialLink{port: port, board: board, logger: c.logger}, nil
}

// Identify sends WHORU and matches the last reply line against the catalog.
func Identify(ctx context.Context, port Port, catalog device.Catalog, timeout time.Duration) (device.Board, error) {
	if err := port.SetReadTimeout(readPoll); err != nil {
		return device.Board{}, fmt.Errorf("transport: set read timeout: %w", err)
	}
	if _, err := io.WriteString(port, cmdIdentify); err != nil {
		return device.Board{}, fmt.Errorf("transport: send identify: %w", err)
	}

	deadline := time.Now().Add(timeout)
	var reply []byte
	buf := make([]byte, 64)
	for !bytes.ContainsRune(reply, '\n') {
		if err := ctx.Err(); err != nil {
			return device.Board{}, err
		}
		if time.Now().After(deadline) || len(reply) > maxReply {
			return device.Board{}, ErrNoReply
		}
		n, err := port.Read(buf)
		reply = append(reply, buf[:n]...)
		if err != nil {
			return device.Board{}, fmt.Errorf("transport: read identify reply: %w", err)
		}
	}

	id := device.ExtractBoardID(string(reply))
	if id == "" {
		return device.Board{}, fmt.Errorf("%w: empty reply", device.ErrUnknownBoard)
	}
	return catalog.Lookup(id)
}

type serialLink struct {
	port   Port
	board  device.Board
	logger *slog.Logger

	once     sync.Once
	closeErr error
}

func (l *serialLink) Configuration() device.Configuration { return l.board.Configuration() }

// Run reads with a short timeout so ctx is checked between reads.
func (l *serialLink) Run(ctx context.Context, s *acquisition.Session) error {
	if err := l.port.SetReadTimeout(readPoll); err != nil {
		return fmt.Errorf("transport: set read timeout: %w", err)
	}
	return s.RunStream(ctx, l.port)
}

// Close asks the board to stop streaming and releases the port.
func (l *serialLink) Close() error {
	l.once.Do(func() {
		if _, err := io.WriteString(l.port, cmdStop); err != nil {
			l.logger.Warn("send stop failed", slog.String("error", err.Error()))
		}
		l.closeErr = l.port.Close()
	})
	return l.closeErr
}
