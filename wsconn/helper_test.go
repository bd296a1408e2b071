package wsconn_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aptpod/wsconn-go/encoding"
	"github.com/aptpod/wsconn-go/encoding/json"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/transport"
	. "github.com/aptpod/wsconn-go/wsconn"
)

const (
	testURL     = "ws://pipe.test/ws"
	waitTimeout = 3 * time.Second
	tick        = 5 * time.Millisecond
)

// fastReconnect is a deterministic reconnect policy for tests.
var fastReconnect = ReconnectConfig{
	Enabled:           true,
	Strategy:          ReconnectStrategyFixed,
	InitialDelay:      10 * time.Millisecond,
	MaxDelay:          50 * time.Millisecond,
	MaxAttempts:       0,
	BackoffMultiplier: 2,
	Jitter:            0,
}

func newTestConn(t *testing.T, d transport.Dialer, opts ...ConnOption) *Conn {
	t.Helper()
	base := []ConnOption{
		WithConnDialer(d),
		WithConnReconnect(fastReconnect),
		WithConnHeartbeatDisabled(),
		WithConnConnectionTimeout(time.Second),
		WithConnCloseTimeout(200 * time.Millisecond),
	}
	conn, err := New(testURL, append(base, opts...)...)
	require.NoError(t, err)
	return conn
}

func destroy(t *testing.T, conn *Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, conn.Destroy(ctx))
}

// server is the peer side of a pipe transport.
type server struct {
	*encoding.Transport
	raw transport.Transport
}

func accept(t *testing.T, d *transport.PipeDialer) *server {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	tr, err := d.Accept(ctx)
	require.NoError(t, err)
	return &server{
		Transport: encoding.NewTransport(&encoding.TransportConfig{
			Transport: tr,
			Encoding:  json.NewEncoding(),
		}),
		raw: tr,
	}
}

func (s *server) read(t *testing.T) message.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	env, err := s.Read(ctx)
	require.NoError(t, err)
	return env
}

// readData skips heartbeats.
func (s *server) readData(t *testing.T) message.Envelope {
	t.Helper()
	for {
		env := s.read(t)
		if env.Type != message.TypeHeartbeat {
			return env
		}
	}
}

func (s *server) write(t *testing.T, f transport.Frame) {
	t.Helper()
	require.NoError(t, s.raw.Write(context.Background(), f))
}

// recorder collects events delivered to a subscription.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(conn *Conn) *recorder {
	r := &recorder{}
	conn.Subscribe(EventHandlerFunc(func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}))
	return r
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func eventsOf[T Event](r *recorder) []T {
	var res []T
	for _, ev := range r.all() {
		if v, ok := ev.(T); ok {
			res = append(res, v)
		}
	}
	return res
}

func waitEvent[T Event](t *testing.T, r *recorder) T {
	t.Helper()
	var res T
	require.Eventually(t, func() bool {
		evs := eventsOf[T](r)
		if len(evs) == 0 {
			return false
		}
		res = evs[0]
		return true
	}, waitTimeout, tick)
	return res
}

func waitState(t *testing.T, conn *Conn, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return conn.State() == want }, waitTimeout, tick, "want state %s, got %s", want, conn.State())
}

func connect(t *testing.T, conn *Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))
}
