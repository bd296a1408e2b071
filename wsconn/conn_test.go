package wsconn_test

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aptpod/wsconn-go/encoding"
	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/storage"
	"github.com/aptpod/wsconn-go/transport"
	"github.com/aptpod/wsconn-go/transport/transportmock"
	. "github.com/aptpod/wsconn-go/wsconn"
)

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		url  string
		opts []ConnOption
	}{
		{name: "empty url", url: ""},
		{name: "no host", url: "ws://"},
		{name: "negative timeout", url: testURL, opts: []ConnOption{WithConnConnectionTimeout(-time.Second)}},
		{name: "negative max attempts", url: testURL, opts: []ConnOption{WithConnReconnect(ReconnectConfig{Enabled: true, Strategy: ReconnectStrategyFixed, MaxAttempts: -1})}},
		{name: "unknown strategy", url: testURL, opts: []ConnOption{WithConnReconnect(ReconnectConfig{Enabled: true, Strategy: "fibonacci"})}},
		{name: "negative queue size", url: testURL, opts: []ConnOption{WithConnMessageQueue(QueueConfig{Enabled: true, MaxSize: -1})}},
		{name: "zero heartbeat interval", url: testURL, opts: []ConnOption{WithConnHeartbeat(HeartbeatConfig{Enabled: true})}},
		{name: "unknown encoding", url: testURL, opts: []ConnOption{WithConnEncoding("xml")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.url, tt.opts...)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.ErrorIs(t, err, errors.ErrWSConn)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn, err := New(testURL)
	require.NoError(t, err)
	defer destroy(t, conn)

	c := conn.Config()
	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, testURL, conn.URL())
	assert.Equal(t, 10*time.Second, c.ConnectionTimeout)
	assert.Equal(t, ReconnectStrategyExponential, c.Reconnect.Strategy)
	assert.Equal(t, 5, c.Reconnect.MaxAttempts)
	assert.Equal(t, 1000, c.MessageQueue.MaxSize)
	assert.Equal(t, 5*time.Minute, c.MessageQueue.MessageExpiry)
	assert.Equal(t, "wsconn:queue:"+conn.ID(), c.MessageQueue.StorageKey)
	assert.Equal(t, 30*time.Second, c.Heartbeat.Interval)
	assert.Equal(t, "ping", c.Heartbeat.Message)
	assert.Equal(t, DefaultMaxMessageSize, c.MaxMessageSize)
	assert.NotNil(t, c.Dialer)
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestConn_ConnectSendReceive(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	var connected sync.WaitGroup
	connected.Add(1)
	conn := newTestConn(t, d,
		WithConnProtocols("chat"),
		WithConnHeader("X-Test", "1"),
		WithConnConnectedEventHandler(ConnectedEventHandlerFunc(func(ev *ConnectedEvent) {
			assert.Equal(t, testURL, ev.URL)
			connected.Done()
		})),
	)
	defer destroy(t, conn)
	rec := record(conn)

	connect(t, conn)
	connected.Wait()
	assert.Equal(t, StateConnected, conn.State())
	assert.True(t, conn.Healthy())
	srv := accept(t, d)

	cfgs := d.Configs()
	require.Len(t, cfgs, 1)
	assert.Equal(t, testURL, cfgs[0].URL)
	assert.Equal(t, []string{"chat"}, cfgs[0].Protocols)
	assert.Equal(t, []string{"1"}, cfgs[0].Header["X-Test"])

	id, err := conn.Send("hello")
	require.NoError(t, err)
	got := srv.readData(t)
	assert.Equal(t, message.TypeText, got.Type)
	assert.Equal(t, "hello", string(got.Data))

	_, err = conn.Send(map[string]int{"a": 1}, WithID("json-1"))
	require.NoError(t, err)
	got = srv.readData(t)
	assert.Equal(t, message.TypeJSON, got.Type)
	assert.Equal(t, "json-1", got.ID)
	assert.JSONEq(t, `{"a":1}`, string(got.Data))

	_, err = conn.Send([]byte{0, 1, 2})
	require.NoError(t, err)
	got = srv.readData(t)
	assert.Equal(t, message.TypeBinary, got.Type)
	assert.Equal(t, []byte{0, 1, 2}, got.Data)

	srv.write(t, transport.TextFrame(`{"id":"srv-1","type":"json","data":{"b":2},"timestamp":1700000000000}`))
	ev := waitEvent[*MessageReceivedEvent](t, rec)
	assert.Equal(t, "srv-1", ev.Envelope.ID)
	assert.JSONEq(t, `{"b":2}`, string(ev.Envelope.Data))

	require.Eventually(t, func() bool { return conn.Stats().MessagesSent == 3 }, waitTimeout, tick)
	assert.Equal(t, uint64(1), conn.Stats().MessagesReceived)
	sent := eventsOf[*MessageSentEvent](rec)
	require.NotEmpty(t, sent)
	assert.Equal(t, id, sent[0].Envelope.ID)

	changes := eventsOf[*StateChangedEvent](rec)
	require.Len(t, changes, 2)
	assert.Equal(t, StateChangedEvent{From: StateDisconnected, To: StateConnecting}, *changes[0])
	assert.Equal(t, StateChangedEvent{From: StateConnecting, To: StateConnected}, *changes[1])
}

func TestConn_ConnectIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d)
	defer destroy(t, conn)

	connect(t, conn)
	srv := accept(t, d)
	_, err := conn.Send("one")
	require.NoError(t, err)
	srv.readData(t)
	require.Eventually(t, func() bool { return conn.Stats().MessagesSent == 1 }, waitTimeout, tick)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, conn.Connect(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, d.Dials())
	assert.Equal(t, uint64(1), conn.Stats().MessagesSent)
	assert.Equal(t, StateConnected, conn.State())
}

func TestConn_ConcurrentConnectWhileConnecting(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	release := make(chan struct{})
	d.SetHook(func(ctx context.Context, attempt int) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	conn := newTestConn(t, d)
	defer destroy(t, conn)

	errCh := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { errCh <- conn.Connect(context.Background()) }()
	}
	waitState(t, conn, StateConnecting)
	close(release)
	for i := 0; i < 3; i++ {
		require.NoError(t, <-errCh)
	}
	assert.Equal(t, 1, d.Dials())
}

func TestConn_FIFODrainAcrossReconnect(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d)
	defer destroy(t, conn)

	for _, s := range []string{"a", "b", "c"} {
		_, err := conn.Send(s)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return conn.QueueLength() == 3 }, waitTimeout, tick)

	connect(t, conn)
	srv := accept(t, d)
	for _, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, string(srv.readData(t).Data))
	}

	// Hold the next dial so that sends land in the queue.
	release := make(chan struct{})
	d.SetHook(func(ctx context.Context, attempt int) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.NoError(t, srv.CloseWithStatus(transport.CloseGoingAway, "restart"))
	require.Eventually(t, func() bool {
		s := conn.State()
		return s == StateReconnecting || s == StateConnecting
	}, waitTimeout, tick)

	for _, s := range []string{"d", "e", "f"} {
		_, err := conn.Send(s)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return conn.QueueLength() == 3 }, waitTimeout, tick)
	close(release)

	waitState(t, conn, StateConnected)
	srv = accept(t, d)
	for _, want := range []string{"d", "e", "f"} {
		assert.Equal(t, want, string(srv.readData(t).Data))
	}
	assert.Equal(t, 1, conn.Stats().ReconnectAttempts)
}

func TestConn_ReconnectExhausted(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	d.SetDialError(fmt.Errorf("connection refused"))
	conn := newTestConn(t, d, WithConnReconnect(ReconnectConfig{
		Enabled:           true,
		Strategy:          ReconnectStrategyExponential,
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          25 * time.Millisecond,
		MaxAttempts:       3,
		BackoffMultiplier: 2,
	}))
	defer destroy(t, conn)
	rec := record(conn)

	err := conn.Connect(context.Background())
	var exhausted *errors.ReconnectExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, errors.ErrReconnectExhausted)
	assert.ErrorIs(t, err, errors.ErrTransport)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 3, conn.Stats().ReconnectAttempts)
	assert.Equal(t, 4, d.Dials())

	require.Eventually(t, func() bool { return len(eventsOf[*DisconnectedEvent](rec)) == 1 }, waitTimeout, tick)
	reconnecting := eventsOf[*ReconnectingEvent](rec)
	require.Len(t, reconnecting, 3)
	var prev time.Duration
	for i, ev := range reconnecting {
		assert.Equal(t, i+1, ev.Attempt)
		assert.GreaterOrEqual(t, ev.Delay, prev)
		assert.LessOrEqual(t, ev.Delay, 25*time.Millisecond)
		prev = ev.Delay
	}
	assert.ErrorIs(t, eventsOf[*DisconnectedEvent](rec)[0].Err, errors.ErrReconnectExhausted)

	// No further attempt happens on its own.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 4, d.Dials())
	assert.Len(t, eventsOf[*DisconnectedEvent](rec), 1)

	// A fresh Connect starts over.
	d.SetDialError(nil)
	connect(t, conn)
	assert.Equal(t, 5, d.Dials())
	assert.Equal(t, 3, conn.Stats().ReconnectAttempts)
}

func TestConn_ConnectTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	d.SetHook(func(ctx context.Context, attempt int) error {
		<-ctx.Done()
		return ctx.Err()
	})
	conn := newTestConn(t, d, WithConnReconnectDisabled(), WithConnConnectionTimeout(30*time.Millisecond))
	defer destroy(t, conn)

	err := conn.Connect(context.Background())
	var timeout *errors.ConnectionTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
	assert.Equal(t, 30*time.Millisecond, timeout.Timeout)
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 1, d.Dials())
}

func TestConn_ConnectContextCanceled(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	d.SetDialError(fmt.Errorf("refused"))
	conn := newTestConn(t, d)
	defer destroy(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, conn.Connect(ctx), context.DeadlineExceeded)

	// Attempts continue in the background.
	require.Eventually(t, func() bool { return d.Dials() >= 3 }, waitTimeout, tick)
	d.SetDialError(nil)
	waitState(t, conn, StateConnected)
}

func TestConn_Disconnect(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d)
	defer destroy(t, conn)
	rec := record(conn)

	connect(t, conn)
	srv := accept(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, conn.Disconnect(ctx, transport.CloseNormal, "bye"))
	assert.Equal(t, StateClosed, conn.State())

	_, err := srv.Read(ctx)
	var ce *transport.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, transport.CloseNormal, ce.Code)
	assert.Equal(t, "bye", ce.Reason)

	ev := waitEvent[*DisconnectedEvent](t, rec)
	assert.NoError(t, ev.Err)
	assert.Equal(t, transport.CloseNormal, ev.Code)

	// Terminal: nothing reconnects on its own.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.Dials())
	assert.Equal(t, StateClosed, conn.State())

	// Sends while closed are queued.
	_, err = conn.Send("later")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.QueueLength() == 1 }, waitTimeout, tick)

	connect(t, conn)
	srv = accept(t, d)
	assert.Equal(t, "later", string(srv.readData(t).Data))
}

func TestConn_ConnectWhileClosing(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// The peer answers the close frame only once closeAck is closed.
	readStarted := make(chan struct{})
	closeAck := make(chan struct{})
	old := transportmock.NewMockTransport(ctrl)
	old.EXPECT().Read(gomock.Any()).DoAndReturn(func(context.Context) (transport.Frame, error) {
		close(readStarted)
		<-closeAck
		return transport.Frame{}, transport.ErrClosed
	}).Times(1)
	old.EXPECT().CloseWithStatus(transport.CloseNormal, "bye").Return(nil).Times(1)

	fresh := transportmock.NewMockTransport(ctrl)
	fresh.EXPECT().Read(gomock.Any()).DoAndReturn(func(ctx context.Context) (transport.Frame, error) {
		<-ctx.Done()
		return transport.Frame{}, ctx.Err()
	}).AnyTimes()
	fresh.EXPECT().Write(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	fresh.EXPECT().CloseWithStatus(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	d := transportmock.NewMockDialer(ctrl)
	first := d.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(old, nil).Times(1)
	d.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(fresh, nil).After(first).Times(1)

	conn := newTestConn(t, d, WithConnCloseTimeout(waitTimeout))
	defer destroy(t, conn)
	rec := record(conn)

	connect(t, conn)
	<-readStarted

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	disconnected := make(chan error, 1)
	go func() { disconnected <- conn.Disconnect(ctx, transport.CloseNormal, "bye") }()
	waitState(t, conn, StateClosing)

	connected := make(chan error, 1)
	go func() { connected <- conn.Connect(ctx) }()
	require.Never(t, func() bool { return len(connected) > 0 }, 50*time.Millisecond, tick)

	close(closeAck)
	require.NoError(t, <-disconnected)
	require.NoError(t, <-connected)
	assert.Equal(t, StateConnected, conn.State())
	require.Eventually(t, func() bool { return len(eventsOf[*ConnectedEvent](rec)) == 2 }, waitTimeout, tick)
	assert.Len(t, eventsOf[*DisconnectedEvent](rec), 1)
}

func TestConn_DisconnectDuringClosingCancelsConnect(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	readStarted := make(chan struct{})
	closeAck := make(chan struct{})
	tr := transportmock.NewMockTransport(ctrl)
	tr.EXPECT().Read(gomock.Any()).DoAndReturn(func(context.Context) (transport.Frame, error) {
		close(readStarted)
		<-closeAck
		return transport.Frame{}, transport.ErrClosed
	}).Times(1)
	tr.EXPECT().CloseWithStatus(transport.CloseNormal, "bye").Return(nil).Times(1)

	d := transportmock.NewMockDialer(ctrl)
	d.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(tr, nil).Times(1)

	conn := newTestConn(t, d, WithConnCloseTimeout(waitTimeout))
	defer destroy(t, conn)

	connect(t, conn)
	<-readStarted

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	disconnected := make(chan error, 2)
	go func() { disconnected <- conn.Disconnect(ctx, transport.CloseNormal, "bye") }()
	waitState(t, conn, StateClosing)

	connected := make(chan error, 1)
	go func() { connected <- conn.Connect(ctx) }()
	require.Never(t, func() bool { return len(connected) > 0 }, 50*time.Millisecond, tick)
	go func() { disconnected <- conn.Disconnect(ctx, transport.CloseNormal, "again") }()
	time.Sleep(20 * time.Millisecond)

	close(closeAck)
	assert.ErrorIs(t, <-connected, errors.ErrConnClosed)
	require.NoError(t, <-disconnected)
	require.NoError(t, <-disconnected)
	assert.Equal(t, StateClosed, conn.State())
}

func TestConn_DisconnectWhileReconnecting(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	d.SetDialError(fmt.Errorf("refused"))
	conn := newTestConn(t, d, WithConnReconnect(ReconnectConfig{
		Enabled:      true,
		Strategy:     ReconnectStrategyFixed,
		InitialDelay: time.Hour,
	}))
	defer destroy(t, conn)

	connectErr := make(chan error, 1)
	go func() { connectErr <- conn.Connect(context.Background()) }()
	waitState(t, conn, StateReconnecting)

	require.NoError(t, conn.Disconnect(context.Background(), transport.CloseNormal, ""))
	assert.Equal(t, StateClosed, conn.State())
	assert.ErrorIs(t, <-connectErr, errors.ErrConnClosed)
	assert.Equal(t, 1, d.Dials())
}

func TestConn_ConnectWhileReconnectingCancelsTimer(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	d.SetDialError(fmt.Errorf("refused"))
	conn := newTestConn(t, d, WithConnReconnect(ReconnectConfig{
		Enabled:      true,
		Strategy:     ReconnectStrategyFixed,
		InitialDelay: time.Hour,
	}))
	defer destroy(t, conn)

	go conn.Connect(context.Background())
	waitState(t, conn, StateReconnecting)

	d.SetDialError(nil)
	connect(t, conn)
	assert.Equal(t, 2, d.Dials())
}

func TestConn_PeerCloseReconnects(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	var reconnecting sync.WaitGroup
	reconnecting.Add(1)
	var once sync.Once
	conn := newTestConn(t, d, WithConnReconnectingEventHandler(ReconnectingEventHandlerFunc(func(ev *ReconnectingEvent) {
		assert.Equal(t, 1, ev.Attempt)
		assert.ErrorIs(t, ev.Err, errors.ErrTransport)
		once.Do(reconnecting.Done)
	})))
	defer destroy(t, conn)
	rec := record(conn)

	connect(t, conn)
	srv := accept(t, d)
	require.NoError(t, srv.CloseWithStatus(transport.CloseGoingAway, "bye"))
	reconnecting.Wait()

	waitState(t, conn, StateConnected)
	accept(t, d)
	assert.Equal(t, 2, d.Dials())
	connected := eventsOf[*ConnectedEvent](rec)
	require.Len(t, connected, 2)
	assert.Equal(t, 1, connected[1].Attempt)
	assert.Empty(t, eventsOf[*DisconnectedEvent](rec))
}

func TestConn_PeerCloseWithoutReconnect(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d, WithConnReconnectDisabled())
	defer destroy(t, conn)
	rec := record(conn)

	connect(t, conn)
	srv := accept(t, d)
	require.NoError(t, srv.CloseWithStatus(transport.CloseInternalError, "boom"))

	ev := waitEvent[*DisconnectedEvent](t, rec)
	assert.ErrorIs(t, ev.Err, errors.ErrTransport)
	assert.Equal(t, transport.CloseInternalError, ev.Code)
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 1, d.Dials())
}

func TestConn_DecodeErrorKeepsConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d)
	defer destroy(t, conn)
	rec := record(conn)

	connect(t, conn)
	srv := accept(t, d)
	srv.write(t, transport.Frame{Type: transport.FrameText, Data: []byte{0xff, 0xfe}})
	srv.write(t, transport.TextFrame("still here"))

	ev := waitEvent[*DecodeErrorEvent](t, rec)
	assert.ErrorIs(t, ev.Err, errors.ErrMalformedMessage)
	got := waitEvent[*MessageReceivedEvent](t, rec)
	assert.Equal(t, "still here", string(got.Envelope.Data))
	assert.Equal(t, StateConnected, conn.State())
	assert.Equal(t, 1, d.Dials())
}

func TestConn_Heartbeat(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d, WithConnHeartbeat(HeartbeatConfig{
		Enabled:     true,
		Interval:    20 * time.Millisecond,
		Timeout:     40 * time.Millisecond,
		Message:     "are-you-there",
		MaxFailures: 1,
	}))
	defer destroy(t, conn)
	rec := record(conn)

	connect(t, conn)
	srv := accept(t, d)

	// Answer the first heartbeat.
	ping := srv.read(t)
	require.Equal(t, message.TypeHeartbeat, ping.Type)
	assert.Equal(t, "are-you-there", string(ping.Data))
	require.NoError(t, srv.Write(context.Background(), message.New(message.TypeHeartbeat, []byte("pong"))))
	require.Eventually(t, func() bool { return !conn.Stats().LastHeartbeatAt.IsZero() }, waitTimeout, tick)
	assert.True(t, conn.Healthy())
	assert.Zero(t, conn.Stats().MessagesReceived)

	// Stop answering; the monitor closes the transport and reconnects.
	ev := waitEvent[*HeartbeatTimeoutEvent](t, rec)
	assert.Equal(t, 1, ev.Failures)
	require.Eventually(t, func() bool { return d.Dials() == 2 }, waitTimeout, tick)
	assert.GreaterOrEqual(t, conn.Stats().HeartbeatFailures, 1)

	// The server sees the forced close once buffered heartbeats are drained.
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	for {
		env, err := srv.Read(ctx)
		if err != nil {
			assert.ErrorIs(t, err, errors.ErrTransport)
			break
		}
		assert.Equal(t, message.TypeHeartbeat, env.Type)
	}
}

func TestConn_HeartbeatAnyTraffic(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d, WithConnHeartbeat(HeartbeatConfig{
		Enabled:           true,
		Interval:          20 * time.Millisecond,
		Timeout:           2 * time.Second,
		Message:           "ping",
		AnyTrafficIsAlive: true,
	}))
	defer destroy(t, conn)
	rec := record(conn)

	connect(t, conn)
	srv := accept(t, d)
	require.Equal(t, message.TypeHeartbeat, srv.read(t).Type)
	srv.write(t, transport.TextFrame("data counts as alive"))

	waitEvent[*MessageReceivedEvent](t, rec)
	require.Eventually(t, func() bool { return !conn.Stats().LastHeartbeatAt.IsZero() }, waitTimeout, tick)
	assert.Empty(t, eventsOf[*HeartbeatTimeoutEvent](rec))
}

func TestConn_QueueOverflow(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newTestConn(t, transport.NewPipeDialer(), WithConnMessageQueue(QueueConfig{
		Enabled:       true,
		MaxSize:       2,
		Deduplication: true,
	}))
	defer destroy(t, conn)
	rec := record(conn)

	for _, id := range []string{"1", "2", "3"} {
		_, err := conn.Send(id, WithID(id))
		require.NoError(t, err)
	}
	_, err := conn.Send("dup", WithID("3"))
	require.NoError(t, err)

	ev := waitEvent[*QueueOverflowEvent](t, rec)
	assert.ErrorIs(t, ev.Err, errors.ErrQueueOverflow)
	require.Len(t, ev.Evicted, 1)
	assert.Equal(t, "1", ev.Evicted[0].ID)

	require.Eventually(t, func() bool { return conn.QueueLength() == 2 }, waitTimeout, tick)
	snap := conn.QueueSnapshot()
	assert.Equal(t, "2", snap[0].ID)
	assert.Equal(t, "3", string(snap[1].Data))
	assert.Equal(t, uint64(1), conn.Stats().MessagesFailed)

	conn.ClearQueue()
	assert.Zero(t, conn.QueueLength())
}

func TestConn_QueueDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newTestConn(t, transport.NewPipeDialer(), WithConnMessageQueue(QueueConfig{Enabled: false}))
	defer destroy(t, conn)
	rec := record(conn)

	_, err := conn.Send("nowhere")
	require.NoError(t, err)
	ev := waitEvent[*MessageFailedEvent](t, rec)
	assert.ErrorIs(t, ev.Err, errors.ErrMessageDropped)
	assert.False(t, ev.Requeued)
	assert.Zero(t, conn.QueueLength())
}

func TestConn_PriorityDrain(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d)
	defer destroy(t, conn)

	_, err := conn.Send("low", WithPriority(message.PriorityLow))
	require.NoError(t, err)
	_, err = conn.Send("normal")
	require.NoError(t, err)
	_, err = conn.Send("urgent", WithPriority(message.PriorityUrgent))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.QueueLength() == 3 }, waitTimeout, tick)

	connect(t, conn)
	srv := accept(t, d)
	for _, want := range []string{"urgent", "normal", "low"} {
		assert.Equal(t, want, string(srv.readData(t).Data))
	}
}

func TestConn_TTL(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d, WithConnMessageQueue(QueueConfig{
		Enabled:       true,
		MaxSize:       10,
		SweepInterval: 10 * time.Millisecond,
		MessageExpiry: time.Hour,
	}))
	defer destroy(t, conn)
	rec := record(conn)

	_, err := conn.Send("short", WithTTL(20*time.Millisecond))
	require.NoError(t, err)
	_, err = conn.Send("long")
	require.NoError(t, err)

	ev := waitEvent[*MessageFailedEvent](t, rec)
	assert.ErrorIs(t, ev.Err, errors.ErrMessageExpired)
	assert.Equal(t, "short", string(ev.Envelope.Data))
	assert.Equal(t, 1, conn.QueueLength())

	connect(t, conn)
	srv := accept(t, d)
	assert.Equal(t, "long", string(srv.readData(t).Data))
}

func TestConn_DrainDropsExpired(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d, WithConnMessageQueue(QueueConfig{
		Enabled: true,
		MaxSize: 10,
	}))
	defer destroy(t, conn)
	rec := record(conn)

	acked := make(chan error, 1)
	go func() {
		acked <- conn.SendWithAck(context.Background(), "stale", WithTTL(20*time.Millisecond))
	}()
	_, err := conn.Send("fresh")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.QueueLength() == 2 }, waitTimeout, tick)
	time.Sleep(30 * time.Millisecond)

	connect(t, conn)
	srv := accept(t, d)
	assert.Equal(t, "fresh", string(srv.readData(t).Data))

	assert.ErrorIs(t, <-acked, errors.ErrMessageExpired)
	ev := waitEvent[*MessageFailedEvent](t, rec)
	assert.ErrorIs(t, ev.Err, errors.ErrMessageExpired)
	assert.Equal(t, "stale", string(ev.Envelope.Data))
	assert.False(t, ev.Requeued)
	assert.Equal(t, uint64(1), conn.Stats().MessagesFailed)
}

func TestConn_SendErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newTestConn(t, transport.NewPipeDialer(), WithConnMaxMessageSize(64*encoding.Byte))

	_, err := conn.Send(strings.Repeat("x", 128))
	assert.ErrorIs(t, err, errors.ErrMessageTooLarge)
	_, err = conn.Send(nil)
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)
	_, err = conn.Send(func() {})
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)
	_, err = conn.Send("not json", WithType(message.TypeJSON))
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)
	_, err = conn.Send("x", WithType(message.TypeHeartbeat))
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)
	assert.Zero(t, conn.QueueLength())

	destroy(t, conn)
	_, err = conn.Send("after destroy")
	assert.ErrorIs(t, err, errors.ErrConnDestroyed)
	assert.ErrorIs(t, conn.Connect(context.Background()), errors.ErrConnDestroyed)
	assert.NoError(t, conn.Destroy(context.Background()))
}

func TestConn_SendWithAck(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d)
	defer destroy(t, conn)

	connect(t, conn)
	srv := accept(t, d)

	done := make(chan error, 1)
	go func() {
		done <- conn.SendWithAck(context.Background(), map[string]string{"op": "save"}, WithID("req-1"))
	}()
	got := srv.readData(t)
	assert.Equal(t, "req-1", got.ID)
	assert.True(t, got.NeedsAck)
	bs, err := stdjson.Marshal(map[string]any{"data": map[string]string{"ackId": "req-1"}})
	require.NoError(t, err)
	srv.write(t, transport.TextFrame(string(bs)))
	require.NoError(t, <-done)
	assert.Zero(t, conn.Stats().MessagesReceived)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = conn.SendWithAck(ctx, "never acked")
	assert.ErrorIs(t, err, errors.ErrAckTimeout)
}

func TestConn_SendWithAckDuplicateID(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d)
	defer destroy(t, conn)

	first := make(chan error, 1)
	go func() { first <- conn.SendWithAck(context.Background(), "first", WithID("req-1")) }()
	require.Eventually(t, func() bool { return conn.QueueLength() == 1 }, waitTimeout, tick)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	err := conn.SendWithAck(ctx, "second", WithID("req-1"))
	assert.ErrorIs(t, err, errors.ErrDuplicateMessage)

	// A plain Send already queued under the ID also rejects the waiter.
	_, err = conn.Send("plain", WithID("req-2"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.QueueLength() == 2 }, waitTimeout, tick)
	err = conn.SendWithAck(ctx, "acked", WithID("req-2"))
	assert.ErrorIs(t, err, errors.ErrDuplicateMessage)

	connect(t, conn)
	srv := accept(t, d)
	got := srv.readData(t)
	assert.Equal(t, "req-1", got.ID)
	assert.Equal(t, "first", string(got.Data))
	assert.Equal(t, "plain", string(srv.readData(t).Data))
	bs, err := stdjson.Marshal(map[string]any{"data": map[string]string{"ackId": "req-1"}})
	require.NoError(t, err)
	srv.write(t, transport.TextFrame(string(bs)))
	require.NoError(t, <-first)
}

func TestConn_DestroyRejectsPendingAck(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newTestConn(t, transport.NewPipeDialer())

	done := make(chan error, 1)
	go func() { done <- conn.SendWithAck(context.Background(), "queued") }()
	require.Eventually(t, func() bool { return conn.QueueLength() == 1 }, waitTimeout, tick)

	destroy(t, conn)
	assert.ErrorIs(t, <-done, errors.ErrConnDestroyed)
	assert.Zero(t, conn.QueueLength())
}

func TestConn_PersistentQueue(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	store := storage.NewMemory()
	defer store.Close()

	first := newTestConn(t, transport.NewPipeDialer(), WithConnID("device-1"), WithConnStore(store))
	for _, s := range []string{"a", "b"} {
		_, err := first.Send(s)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		envs, err := store.Load(ctx, "wsconn:queue:device-1")
		return err == nil && len(envs) == 2
	}, waitTimeout, tick)

	d := transport.NewPipeDialer()
	second := newTestConn(t, d, WithConnID("device-1"), WithConnStore(store))
	assert.Equal(t, 2, second.QueueLength())
	destroy(t, first)

	connect(t, second)
	srv := accept(t, d)
	assert.Equal(t, "a", string(srv.readData(t).Data))
	assert.Equal(t, "b", string(srv.readData(t).Data))
	destroy(t, second)

	envs, err := store.Load(ctx, "wsconn:queue:device-1")
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestConn_DestroyKeepsPersistedQueue(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	store := storage.NewMemory()
	defer store.Close()

	first := newTestConn(t, transport.NewPipeDialer(), WithConnID("device-1"), WithConnStore(store))
	for _, s := range []string{"a", "b"} {
		_, err := first.Send(s)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return first.QueueLength() == 2 }, waitTimeout, tick)
	destroy(t, first)
	assert.Zero(t, first.QueueLength())

	envs, err := store.Load(ctx, "wsconn:queue:device-1")
	require.NoError(t, err)
	assert.Len(t, envs, 2)

	d := transport.NewPipeDialer()
	second := newTestConn(t, d, WithConnID("device-1"), WithConnStore(store))
	defer destroy(t, second)
	assert.Equal(t, 2, second.QueueLength())

	connect(t, second)
	srv := accept(t, d)
	assert.Equal(t, "a", string(srv.readData(t).Data))
	assert.Equal(t, "b", string(srv.readData(t).Data))
}

func TestConn_ClearQueueClearsPersisted(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	store := storage.NewMemory()
	defer store.Close()

	conn := newTestConn(t, transport.NewPipeDialer(), WithConnID("device-1"), WithConnStore(store))
	_, err := conn.Send("a")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.QueueLength() == 1 }, waitTimeout, tick)
	conn.ClearQueue()
	destroy(t, conn)

	envs, err := store.Load(ctx, "wsconn:queue:device-1")
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestConn_Protobuf(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d, WithConnEncoding(encoding.NameProtobuf))
	defer destroy(t, conn)

	connect(t, conn)
	tr, err := d.Accept(context.Background())
	require.NoError(t, err)
	_, err = conn.Send("over protobuf")
	require.NoError(t, err)

	f, err := tr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transport.FrameBinary, f.Type)
	enc, err := encoding.Get(encoding.NameProtobuf)
	require.NoError(t, err)
	env, err := enc.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, message.TypeText, env.Type)
	assert.Equal(t, "over protobuf", string(env.Data))
}

func TestConn_WriteFailureRequeues(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	readStarted := make(chan struct{})
	dropRead := make(chan struct{})
	writing := make(chan struct{})
	release := make(chan struct{})
	tr := transportmock.NewMockTransport(ctrl)
	tr.EXPECT().Read(gomock.Any()).DoAndReturn(func(context.Context) (transport.Frame, error) {
		close(readStarted)
		<-dropRead
		return transport.Frame{}, transport.ErrClosed
	}).Times(1)
	tr.EXPECT().Write(gomock.Any(), transport.TextFrame("lost")).DoAndReturn(func(context.Context, transport.Frame) error {
		close(writing)
		<-release
		return transport.ErrClosed
	}).Times(1)
	tr.EXPECT().CloseWithStatus(transport.CloseAbnormal, "").Return(nil).Times(1)

	d := transportmock.NewMockDialer(ctrl)
	first := d.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(tr, nil).Times(1)
	d.EXPECT().Dial(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ transport.DialConfig) (transport.Transport, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}).After(first).AnyTimes()

	conn := newTestConn(t, d)
	defer destroy(t, conn)
	rec := record(conn)

	connect(t, conn)
	<-readStarted
	_, err := conn.Send("lost")
	require.NoError(t, err)
	<-writing
	_, err = conn.Send("in-flight")
	require.NoError(t, err)

	// The read side fails while "lost" is still being written.
	close(dropRead)
	require.Eventually(t, func() bool {
		s := conn.State()
		return s == StateReconnecting || s == StateConnecting
	}, waitTimeout, tick)
	_, err = conn.Send("backlog")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.QueueLength() == 1 }, waitTimeout, tick)

	close(release)
	ev := waitEvent[*MessageFailedEvent](t, rec)
	assert.True(t, ev.Requeued)
	assert.ErrorIs(t, ev.Err, transport.ErrClosed)
	require.Eventually(t, func() bool { return conn.QueueLength() == 3 }, waitTimeout, tick)

	snap := conn.QueueSnapshot()
	var got []string
	for _, env := range snap {
		got = append(got, string(env.Data))
	}
	assert.Equal(t, []string{"lost", "in-flight", "backlog"}, got)
	assert.Equal(t, 1, snap[0].RetryCount)
	assert.Zero(t, snap[1].RetryCount)
	assert.Zero(t, conn.Stats().MessagesFailed)
}

func TestConn_Unsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn := newTestConn(t, d)
	defer destroy(t, conn)

	var mu sync.Mutex
	var n int
	unsubscribe := conn.Subscribe(EventHandlerFunc(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		n++
	}))
	unsubscribe()
	unsubscribe()
	rec := record(conn)

	connect(t, conn)
	waitEvent[*ConnectedEvent](t, rec)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, n)
}

func TestDial(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := transport.NewPipeDialer()
	conn, err := Dial(context.Background(), testURL, WithConnDialer(d), WithConnHeartbeatDisabled())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, conn.State())
	destroy(t, conn)

	d.SetDialError(fmt.Errorf("refused"))
	_, err = Dial(context.Background(), testURL, WithConnDialer(d), WithConnReconnectDisabled(), WithConnHeartbeatDisabled())
	assert.ErrorIs(t, err, errors.ErrTransport)
}
