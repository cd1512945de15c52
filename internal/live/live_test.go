package live_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/mtiwari1/exgstream/internal/live"
	"github.com/mtiwari1/exgstream/internal/sample"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func TestHubBroadcastsRows(t *testing.T) {
	hub := live.NewHub(discard())
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)

	hub.Consume(sample.Row{0, 1})

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	hub.Consume(sample.Row{7, 10, -20, 30})

	for _, conn := range []*websocket.Conn{a, b} {
		var f live.Frame
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, json.NewDecoder(conn).Decode(&f))
		assert.Equal(t, live.Frame{Counter: 7, Channels: []int32{10, -20, 30}}, f)
	}

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
}

func TestNewFrameCopiesRow(t *testing.T) {
	row := sample.Row{1, 2, 3}
	f := live.NewFrame(row)
	row[1] = 99
	assert.Equal(t, []int32{2, 3}, f.Channels)
}

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return fakeToken{err: p.err}
}

func (p *fakePublisher) batches(t *testing.T) [][]live.Frame {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]live.Frame
	for _, raw := range p.payloads {
		var frames []live.Frame
		require.NoError(t, json.Unmarshal(raw, &frames))
		out = append(out, frames)
	}
	return out
}

func TestMQTTPublisherBatches(t *testing.T) {
	pub := &fakePublisher{}
	p := live.NewMQTTPublisher(pub, "exg/live", 3, discard())

	for i := int32(0); i < 7; i++ {
		p.Consume(sample.Row{i, i * 10})
	}
	batches := pub.batches(t)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 3)
	assert.Equal(t, live.Frame{Counter: 5, Channels: []int32{50}}, batches[1][2])

	p.Flush()
	batches = pub.batches(t)
	require.Len(t, batches, 3)
	assert.Equal(t, []live.Frame{{Counter: 6, Channels: []int32{60}}}, batches[2])
	assert.Equal(t, uint64(3), p.Published())
	assert.Equal(t, []string{"exg/live", "exg/live", "exg/live"}, pub.topics)

	p.Flush()
	assert.Len(t, pub.batches(t), 3)
}

func TestMQTTPublisherCountsFailures(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	p := live.NewMQTTPublisher(pub, "exg/live", 1, discard())
	p.Consume(sample.Row{1, 2})
	p.Consume(sample.Row{2, 3})
	require.Eventually(t, func() bool { return p.Failed() == 2 }, time.Second, 5*time.Millisecond)
}
