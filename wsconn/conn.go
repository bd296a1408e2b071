package wsconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aptpod/wsconn-go/encoding"
	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/internal/ch"
	"github.com/aptpod/wsconn-go/internal/retry"
	"github.com/aptpod/wsconn-go/log"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/queue"
	"github.com/aptpod/wsconn-go/storage"
	"github.com/aptpod/wsconn-go/transport"
)

const mailboxSize = 256

var errWriterBusy = errors.New("writer busy")

// Connは、自動再接続・送信キュー・ハートビートを備えたコネクションです。
//
// Connの状態遷移は内部の1つのゴルーチンで直列に処理されます。
// 全てのメソッドは複数のゴルーチンから同時に呼び出すことができます。
type Conn struct {
	cfg    ConnConfig
	logger log.Logger
	ctx    context.Context
	enc    encoding.Encoding
	queue  *queue.Queue
	sched  *retry.Scheduler

	dispatcher *eventDispatcher
	subs       subscribers

	mailbox chan func()
	quit    chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup

	mu             sync.RWMutex
	state          State
	stats          Stats
	connectedSince time.Time
	hbFailures     int

	// 以下はアクターのゴルーチンのみが触る。
	gen                 uint64
	sess                *session
	closing             *session
	dialCancel          context.CancelFunc
	connectTimer        *time.Timer
	closeTimer          *time.Timer
	sweepTimer          *time.Timer
	attempt             int
	lastErr             error
	connectWaiters      []chan error
	closeWaiters        []chan error
	reconnectAfterClose bool
	closeCode           transport.CloseCode
	closeReason         string
	acks                map[string]chan error
	hb                  heartbeatState
	latency             *latencyWindow
	destroyed           bool
}

// Newは、Connを生成します。接続はConnectを呼び出すまで開始しません。
//
// urlはws://host:port/pathの形式で指定します。
func New(url string, opts ...ConnOption) (*Conn, error) {
	conf := defaultConnConfig
	for _, o := range opts {
		o(&conf)
	}
	conf.URL = url
	return NewWithConfig(&conf)
}

// NewWithConfigは、Configを指定してConnを生成します。
//
// ゼロ値のフィールドはデフォルト値で補完します。設定値が不正な場合は errors.ErrInvalidConfig を返却します。
func NewWithConfig(c *ConnConfig) (*Conn, error) {
	conf := *c
	if err := conf.validate(); err != nil {
		return nil, err
	}
	enc, err := encoding.Get(conf.Encoding)
	if err != nil {
		return nil, err
	}

	conn := &Conn{
		cfg:        conf,
		logger:     conf.Logger,
		ctx:        log.WithTrackConnID(context.Background(), conf.ID),
		enc:        enc,
		sched:      retry.NewScheduler(conf.Reconnect.policy()),
		dispatcher: newEventDispatcher(),
		mailbox:    make(chan func(), mailboxSize),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		state:      StateDisconnected,
		acks:       map[string]chan error{},
		latency:    newLatencyWindow(latencySamples),
	}
	if conf.MessageQueue.Enabled {
		qc := queue.Config{
			MaxSize:       conf.MessageQueue.MaxSize,
			Deduplication: conf.MessageQueue.Deduplication,
			MessageExpiry: conf.MessageQueue.MessageExpiry,
			Logger:        conf.Logger,
		}
		if conf.MessageQueue.Persistent {
			qc.Store = conf.Store
			if qc.Store == nil {
				qc.Store = storage.NewMemory()
			}
			qc.StorageKey = conf.MessageQueue.StorageKey
			qc.OnPersistError = func(err error) {
				conn.emit(&ErrorEvent{Err: err})
			}
		}
		conn.queue = queue.New(qc)
		if conf.MessageQueue.Persistent {
			if _, err := conn.queue.Restore(conn.ctx); err != nil {
				conn.logger.Warnf(conn.ctx, "Failed to restore message queue: %v", err)
			}
		}
	}

	conn.scheduleSweep()

	dispatchCtx, cancel := context.WithCancel(context.Background())
	conn.wg.Add(2)
	go func() {
		defer conn.wg.Done()
		defer cancel()
		conn.dispatcher.dispatchLoop(dispatchCtx)
	}()
	go func() {
		defer conn.wg.Done()
		conn.run()
	}()
	return conn, nil
}

// Dialは、Connを生成して接続が確立されるまで待ちます。
//
// 接続に失敗した場合、生成したConnは破棄されます。
func Dial(ctx context.Context, url string, opts ...ConnOption) (*Conn, error) {
	conn, err := New(url, opts...)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		conn.Destroy(context.Background())
		return nil, err
	}
	return conn, nil
}

// IDは、コネクションIDを返却します。
func (c *Conn) ID() string {
	return c.cfg.ID
}

// URLは、接続先URLを返却します。
func (c *Conn) URL() string {
	return c.cfg.URL
}

// Configは、コネクションの設定を返却します。
func (c *Conn) Config() ConnConfig {
	return c.cfg
}

// Stateは、現在の状態を返却します。
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Statsは、統計情報のスナップショットを返却します。
func (c *Conn) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := c.stats
	if !c.connectedSince.IsZero() {
		res.TotalConnectedTime += time.Since(c.connectedSince)
	}
	return res
}

// Healthyは、接続が確立されていて直近のハートビートが失敗していないかどうかを返却します。
func (c *Conn) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateConnected && c.hbFailures == 0
}

// QueueLengthは、キューに滞留しているメッセージの数を返却します。
func (c *Conn) QueueLength() int {
	if c.queue == nil {
		return 0
	}
	return c.queue.Len()
}

// ClearQueueは、キューに滞留しているメッセージを全て破棄します。
func (c *Conn) ClearQueue() {
	if c.queue == nil {
		return
	}
	c.queue.Clear()
}

// Subscribeは、全てのイベントを受け取るハンドラを登録します。
//
// 戻り値の関数を呼び出すと登録を解除します。ハンドラは登録順に、コネクションごとに1つのゴルーチンから呼び出されます。
func (c *Conn) Subscribe(h EventHandler) (unsubscribe func()) {
	return c.subs.add(h)
}

// Connectは、接続を開始し、接続が確立されるまで待ちます。
//
// 既に接続済み、または接続処理中の場合は新たなトランスポートを作成せずにその結果を待ちます。
// 再接続の待機中に呼び出した場合は、待機を取り消して直ちに接続を試行します。
// ctxが終了した場合は ctx.Err() を返却しますが、接続の試行はバックグラウンドで継続します。
func (c *Conn) Connect(ctx context.Context) error {
	res := make(chan error, 1)
	if !c.post(func() { c.handleConnect(res) }) {
		return errors.ErrConnDestroyed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return errors.ErrConnDestroyed
	}
}

// Sendは、メッセージを送信します。
//
// 接続済みの場合は直ちに送信し、そうでない場合はキューへ投入します。未接続であることはエラーになりません。
// 接続済みでもキューに未送信のメッセージが残っている場合は、その後ろへ投入され順番に送信されます。
// ペイロードが不正な場合、最大サイズを超える場合、Connが破棄済みの場合にエラーを返却します。
func (c *Conn) Send(payload any, opts ...SendOption) (id string, err error) {
	env, err := c.prepare(payload, opts)
	if err != nil {
		return "", err
	}
	if !c.post(func() { c.handleSend(env) }) {
		return "", errors.ErrConnDestroyed
	}
	return env.ID, nil
}

// SendWithAckは、確認応答を要求するメッセージを送信し、応答を受信するまで待ちます。
//
// ctxのデッドラインを超えた場合は errors.ErrAckTimeout を返却します。
// 同じIDのメッセージが確認応答待ちか、重複排除によって拒否された場合は errors.ErrDuplicateMessage を返却します。
func (c *Conn) SendWithAck(ctx context.Context, payload any, opts ...SendOption) error {
	env, err := c.prepare(payload, opts)
	if err != nil {
		return err
	}
	env.NeedsAck = true
	res := make(chan error, 1)
	if !c.post(func() { c.handleSendWithAck(env, res) }) {
		return errors.ErrConnDestroyed
	}

	select {
	case err := <-res:
		return err
	case <-c.stopped:
		return errors.ErrConnDestroyed
	case <-ctx.Done():
		c.post(func() { delete(c.acks, env.ID) })
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("message %s: %w", env.ID, errors.ErrAckTimeout)
		}
		return ctx.Err()
	}
}

func (c *Conn) prepare(payload any, opts []SendOption) (message.Envelope, error) {
	if c.isStopped() {
		return message.Envelope{}, errors.ErrConnDestroyed
	}
	env, err := buildEnvelope(payload, opts)
	if err != nil {
		return message.Envelope{}, err
	}
	f, err := c.enc.Encode(env)
	if err != nil {
		return message.Envelope{}, err
	}
	if c.cfg.MaxMessageSize > 0 && encoding.Size(len(f.Data)) > c.cfg.MaxMessageSize {
		return message.Envelope{}, fmt.Errorf("max_size is %s but got %s: %w",
			c.cfg.MaxMessageSize, encoding.Size(len(f.Data)), errors.ErrMessageTooLarge)
	}
	return env, nil
}

// Disconnectは、接続を切断しCLOSEDへ遷移するまで待ちます。
//
// 予約済みの再接続は取り消され、以降自動で再接続することはありません。
// 接続を待っているConnectは errors.ErrConnClosed を返却します。
func (c *Conn) Disconnect(ctx context.Context, code transport.CloseCode, reason string) error {
	res := make(chan error, 1)
	if !c.post(func() { c.handleDisconnect(code, reason, res) }) {
		return errors.ErrConnDestroyed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return nil
	}
}

// Destroyは、切断した上でConnが保持する全てのリソースを解放します。
//
// メモリ上のキューは破棄されますが、永続化された内容は保持され、同じIDで作成したConnで復元できます。
// 確認応答を待っているSendWithAckは errors.ErrConnDestroyed を返却します。
// ConnConfig.Storeは閉じません。
// 破棄した後のConnのメソッドは errors.ErrConnDestroyed を返却します。
func (c *Conn) Destroy(ctx context.Context) error {
	if c.isStopped() {
		return nil
	}
	if err := c.Disconnect(ctx, transport.CloseGoingAway, "destroyed"); err != nil && !errors.Is(err, errors.ErrConnDestroyed) {
		c.logger.Warnf(c.ctx, "Disconnect on destroy: %v", err)
	}
	c.post(c.handleDestroy)
	select {
	case <-c.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	var err error
	if c.queue != nil {
		err = c.queue.Close(ctx)
		c.queue.Discard()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (c *Conn) isStopped() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

func (c *Conn) post(f func()) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.mailbox <- f:
		return true
	case <-c.quit:
		return false
	}
}

func (c *Conn) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.quit:
			return
		default:
		}
		select {
		case f := <-c.mailbox:
			f()
		case <-c.quit:
			return
		}
	}
}

func (c *Conn) setState(to State) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	now := time.Now()
	switch {
	case to == StateConnected:
		c.stats.LastConnectedAt = now
		c.connectedSince = now
	case from == StateConnected:
		c.stats.TotalConnectedTime += now.Sub(c.connectedSince)
		c.connectedSince = time.Time{}
	}
	c.mu.Unlock()

	c.logger.Infof(c.ctx, "State changed %s -> %s", from, to)
	c.emit(&StateChangedEvent{From: from, To: to})
}

func (c *Conn) currentState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Conn) updateStats(f func(s *Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(&c.stats)
}

func (c *Conn) emit(ev Event) {
	c.dispatcher.addHandler(func() {
		switch ev := ev.(type) {
		case *ConnectedEvent:
			c.cfg.ConnectedEventHandler.OnConnected(ev)
		case *DisconnectedEvent:
			c.cfg.DisconnectedEventHandler.OnDisconnected(ev)
		case *ReconnectingEvent:
			c.cfg.ReconnectingEventHandler.OnReconnecting(ev)
		case *MessageReceivedEvent:
			c.cfg.MessageReceivedEventHandler.OnMessageReceived(ev)
		case *ErrorEvent:
			c.cfg.ErrorEventHandler.OnError(ev)
		}
		for _, h := range c.subs.snapshot() {
			h.OnEvent(ev)
		}
	})
}

func (c *Conn) handleConnect(res chan error) {
	if c.destroyed {
		res <- errors.ErrConnDestroyed
		return
	}
	switch c.currentState() {
	case StateConnected:
		res <- nil
	case StateConnecting:
		c.connectWaiters = append(c.connectWaiters, res)
	case StateReconnecting:
		c.connectWaiters = append(c.connectWaiters, res)
		c.sched.Cancel()
		c.startConnecting()
	case StateClosing:
		c.connectWaiters = append(c.connectWaiters, res)
		c.reconnectAfterClose = true
	default:
		c.connectWaiters = append(c.connectWaiters, res)
		c.attempt = 0
		c.lastErr = nil
		c.sched.Cancel()
		c.startConnecting()
	}
}

func (c *Conn) startConnecting() {
	c.gen++
	gen := c.gen
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithCancel(c.ctx)
	c.dialCancel = cancel
	c.connectTimer = time.AfterFunc(c.cfg.ConnectionTimeout, func() {
		c.post(func() { c.onConnectTimeout(gen) })
	})

	dc := transport.DialConfig{
		URL:       c.cfg.URL,
		Protocols: c.cfg.Protocols,
		Header:    c.cfg.Header,
	}
	c.logger.Debugf(c.ctx, "Dialing %s (attempt %d)", c.cfg.URL, c.attempt)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		tr, err := c.cfg.Dialer.Dial(dialCtx, dc)
		if !c.post(func() { c.onDialed(gen, tr, err) }) && tr != nil {
			tr.Close()
		}
	}()
}

func (c *Conn) stopConnecting() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
}

func (c *Conn) onDialed(gen uint64, tr transport.Transport, err error) {
	if gen != c.gen || c.currentState() != StateConnecting {
		if tr != nil {
			c.logger.Debugf(c.ctx, "Closing transport from abandoned dial")
			tr.Close()
		}
		return
	}
	c.stopConnecting()
	if err != nil {
		c.handleFailure(&errors.TransportError{Op: "dial", Err: err})
		return
	}

	c.sess = c.startSession(gen, tr)
	reconnected := c.attempt
	c.attempt = 0
	c.lastErr = nil
	c.setState(StateConnected)
	protocol := transport.NegotiatedProtocol(tr)
	if protocol != "" {
		c.logger.Infof(c.ctx, "Connected to %s with subprotocol %s", c.cfg.URL, protocol)
	} else {
		c.logger.Infof(c.ctx, "Connected to %s", c.cfg.URL)
	}
	c.emit(&ConnectedEvent{URL: c.cfg.URL, Protocol: protocol, Attempt: reconnected})
	c.resolveConnectWaiters(nil)
	c.startHeartbeat()
	c.drainQueue()
}

func (c *Conn) onConnectTimeout(gen uint64) {
	if gen != c.gen || c.currentState() != StateConnecting {
		return
	}
	c.stopConnecting()
	c.handleFailure(&errors.ConnectionTimeoutError{URL: c.cfg.URL, Timeout: c.cfg.ConnectionTimeout})
}

// handleFailure moves a CONNECTING or CONNECTED connection to RECONNECTING or CLOSED.
func (c *Conn) handleFailure(err error) {
	c.stopHeartbeat()
	if c.sess != nil {
		c.closeSession(c.sess, transport.CloseAbnormal, "")
		c.sess = nil
	}
	c.lastErr = err
	c.updateStats(func(s *Stats) { s.LastErrorAt = time.Now() })
	c.logger.Warnf(c.ctx, "Connection failure: %v", err)
	c.emit(&ErrorEvent{Err: err})

	if !c.cfg.Reconnect.Enabled {
		c.finishClosed(transport.CloseCodeOf(err), "", err)
		return
	}

	next := c.attempt + 1
	gen := c.gen
	delay, serr := c.sched.ScheduleNext(next, func() {
		c.post(func() { c.onReconnectDue(gen) })
	})
	if serr != nil {
		terminal := &errors.ReconnectExhaustedError{Attempts: c.attempt, LastErr: err}
		c.logger.Errorf(c.ctx, "%v", terminal)
		c.finishClosed(transport.CloseAbnormal, "", terminal)
		return
	}
	c.attempt = next
	c.updateStats(func(s *Stats) { s.ReconnectAttempts++ })
	c.setState(StateReconnecting)
	c.logger.Infof(c.ctx, "Reconnecting in %v (attempt %d)", delay, next)
	c.emit(&ReconnectingEvent{Attempt: next, Delay: delay, Err: err})
}

func (c *Conn) onReconnectDue(gen uint64) {
	if gen != c.gen || c.currentState() != StateReconnecting {
		return
	}
	c.startConnecting()
}

func (c *Conn) handleDisconnect(code transport.CloseCode, reason string, res chan error) {
	if c.destroyed {
		res <- nil
		return
	}
	c.reconnectAfterClose = false
	switch c.currentState() {
	case StateClosed:
		res <- nil
		return
	case StateClosing:
		c.closeWaiters = append(c.closeWaiters, res)
		return
	}

	c.sched.Cancel()
	c.stopConnecting()
	c.stopHeartbeat()
	c.resolveConnectWaiters(errors.ErrConnClosed)
	c.closeWaiters = append(c.closeWaiters, res)
	c.closeCode, c.closeReason = code, reason

	if c.sess == nil {
		c.gen++
		c.finishClosed(code, reason, nil)
		return
	}
	s := c.sess
	c.sess = nil
	c.closing = s
	c.setState(StateClosing)
	c.closeSession(s, code, reason)
	c.closeTimer = time.AfterFunc(c.cfg.CloseTimeout, func() {
		c.post(func() { c.onCloseTimeout(s.gen) })
	})
}

func (c *Conn) onCloseTimeout(gen uint64) {
	if c.closing == nil || c.closing.gen != gen {
		return
	}
	c.logger.Warnf(c.ctx, "Close handshake timed out after %v", c.cfg.CloseTimeout)
	c.closing = nil
	c.finishClosed(c.closeCode, c.closeReason, nil)
}

// finishClosed enters CLOSED and reports the terminal outcome exactly once.
func (c *Conn) finishClosed(code transport.CloseCode, reason string, err error) {
	if c.closeTimer != nil {
		c.closeTimer.Stop()
		c.closeTimer = nil
	}
	c.setState(StateClosed)
	c.emit(&DisconnectedEvent{Code: code, Reason: reason, Err: err})

	// Connect called during CLOSING keeps waiting for the fresh connection.
	restart := c.reconnectAfterClose
	c.reconnectAfterClose = false
	if !restart {
		waitErr := err
		if waitErr == nil {
			waitErr = errors.ErrConnClosed
		}
		c.resolveConnectWaiters(waitErr)
	}
	for _, w := range c.closeWaiters {
		w <- nil
	}
	c.closeWaiters = nil
	if err != nil {
		c.rejectAcks(err)
	}

	if restart {
		c.attempt = 0
		c.lastErr = nil
		c.startConnecting()
	}
}

func (c *Conn) handleDestroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.sched.Cancel()
	c.stopConnecting()
	c.stopHeartbeat()
	if c.sweepTimer != nil {
		c.sweepTimer.Stop()
	}
	for _, s := range []*session{c.sess, c.closing} {
		if s != nil {
			c.closeSession(s, transport.CloseGoingAway, "destroyed")
		}
	}
	c.sess, c.closing = nil, nil
	c.resolveConnectWaiters(errors.ErrConnDestroyed)
	for _, w := range c.closeWaiters {
		w <- nil
	}
	c.closeWaiters = nil
	c.rejectAcks(errors.ErrConnDestroyed)
	c.dispatcher.stop()
	close(c.quit)
}

func (c *Conn) resolveConnectWaiters(err error) {
	for _, w := range c.connectWaiters {
		w <- err
	}
	c.connectWaiters = nil
}

func (c *Conn) rejectAcks(err error) {
	for id, w := range c.acks {
		w <- err
		delete(c.acks, id)
	}
}

// handleSend reports whether env was written or queued.
func (c *Conn) handleSend(env message.Envelope) bool {
	if c.destroyed {
		return false
	}
	if c.currentState() == StateConnected && c.sess != nil && c.QueueLength() == 0 {
		if ch.TryWrite(env, c.sess.writeCh) {
			return true
		}
	}
	return c.enqueue(env, false)
}

func (c *Conn) handleSendWithAck(env message.Envelope, res chan error) {
	if c.destroyed {
		res <- errors.ErrConnDestroyed
		return
	}
	duplicate := fmt.Errorf("message %s: %w", env.ID, errors.ErrDuplicateMessage)
	if _, ok := c.acks[env.ID]; ok {
		res <- duplicate
		return
	}
	// Registered first so that drop paths reject the waiter themselves.
	c.acks[env.ID] = res
	if c.handleSend(env) {
		return
	}
	if w, ok := c.acks[env.ID]; ok && w == res {
		delete(c.acks, env.ID)
		res <- duplicate
	}
}

// enqueue puts env at the tail, or back at the head when front is set.
func (c *Conn) enqueue(env message.Envelope, front bool) bool {
	if c.queue == nil {
		c.failMessage(env, fmt.Errorf("not connected: %w", errors.ErrMessageDropped), false)
		return false
	}
	var accepted bool
	var evicted []message.Envelope
	if front {
		accepted, evicted = c.queue.Requeue(env)
	} else {
		accepted, evicted = c.queue.Enqueue(env)
	}
	if !accepted {
		c.logger.Debugf(c.ctx, "Dropped duplicate message %s", env.ID)
		return false
	}
	if len(evicted) > 0 {
		ids := make([]string, 0, len(evicted))
		for _, v := range evicted {
			ids = append(ids, v.ID)
		}
		overflow := &errors.QueueOverflowError{MaxSize: c.cfg.MessageQueue.MaxSize, EvictedIDs: ids}
		c.updateStats(func(s *Stats) { s.MessagesFailed += uint64(len(evicted)) })
		for _, id := range ids {
			if w, ok := c.acks[id]; ok {
				w <- overflow
				delete(c.acks, id)
			}
		}
		c.logger.Warnf(c.ctx, "Message queue overflow, evicted %d message(s)", len(evicted))
		c.emit(&QueueOverflowEvent{Err: overflow, Evicted: evicted})
		for _, v := range evicted {
			if v.ID == env.ID {
				return false
			}
		}
	}
	return true
}

func (c *Conn) failMessage(env message.Envelope, err error, requeued bool) {
	if !requeued {
		c.updateStats(func(s *Stats) { s.MessagesFailed++ })
		if w, ok := c.acks[env.ID]; ok {
			w <- err
			delete(c.acks, env.ID)
		}
	}
	c.emit(&MessageFailedEvent{Envelope: env, Err: err, Requeued: requeued})
}

func (c *Conn) drainQueue() {
	if c.queue == nil || c.sess == nil || c.currentState() != StateConnected {
		return
	}
	s := c.sess
	sent, expired, err := c.queue.Drain(func(env message.Envelope) error {
		if ch.TryWrite(env, s.writeCh) {
			return nil
		}
		return errWriterBusy
	})
	for _, env := range expired {
		c.failMessage(env, errors.ErrMessageExpired, false)
	}
	if sent > 0 {
		c.logger.Debugf(c.ctx, "Drained %d queued message(s)", sent)
	}
	if err != nil && err != errWriterBusy {
		c.logger.Warnf(c.ctx, "Drain: %v", err)
	}
}

func (c *Conn) onWritten(gen uint64, env message.Envelope, err error) {
	if err == nil {
		if env.Type.IsControl() {
			return
		}
		c.updateStats(func(s *Stats) { s.MessagesSent++ })
		c.emit(&MessageSentEvent{Envelope: env})
		if c.sess != nil && c.sess.gen == gen {
			c.drainQueue()
		}
		return
	}

	if errors.Is(err, errors.ErrMalformedMessage) {
		c.failMessage(env, err, false)
		return
	}
	if !env.Type.IsControl() {
		env.RetryCount++
		c.failMessage(env, err, c.requeue(env))
	}
	if c.sess != nil && c.sess.gen == gen && c.currentState() == StateConnected {
		c.handleFailure(&errors.TransportError{Op: "write", Err: err})
	}
}

func (c *Conn) requeue(envs ...message.Envelope) bool {
	if c.destroyed || c.queue == nil {
		return false
	}
	ok := true
	for _, env := range envs {
		if !c.enqueue(env, true) {
			ok = false
		}
	}
	return ok
}

func (c *Conn) onInbound(gen uint64, env message.Envelope) {
	if c.sess == nil || c.sess.gen != gen {
		return
	}
	if env.Type == message.TypeHeartbeat || c.cfg.Heartbeat.AnyTrafficIsAlive {
		c.onLiveness(env.Type == message.TypeHeartbeat)
	}
	switch env.Type {
	case message.TypeHeartbeat:
		return
	case message.TypeAck:
		if w, ok := c.acks[env.AckID]; ok {
			w <- nil
			delete(c.acks, env.AckID)
		}
		return
	}
	c.updateStats(func(s *Stats) { s.MessagesReceived++ })
	c.emit(&MessageReceivedEvent{Envelope: env})
}

func (c *Conn) onDecodeError(gen uint64, err error) {
	if c.sess == nil || c.sess.gen != gen {
		return
	}
	c.logger.Warnf(c.ctx, "Dropped inbound frame: %v", err)
	c.emit(&DecodeErrorEvent{Err: err})
}

func (c *Conn) onSessionEnded(gen uint64, err error) {
	if c.closing != nil && c.closing.gen == gen {
		c.closing = nil
		c.finishClosed(c.closeCode, c.closeReason, nil)
		return
	}
	if c.sess == nil || c.sess.gen != gen {
		return
	}
	switch c.currentState() {
	case StateConnecting, StateConnected:
		c.handleFailure(&errors.TransportError{Op: "read", Err: err})
	}
}

func (c *Conn) scheduleSweep() {
	qc := c.cfg.MessageQueue
	if c.queue == nil || qc.SweepInterval <= 0 || qc.MessageExpiry <= 0 {
		return
	}
	c.sweepTimer = time.AfterFunc(qc.SweepInterval, func() {
		c.post(c.sweep)
	})
}

func (c *Conn) sweep() {
	if c.destroyed {
		return
	}
	for _, env := range c.queue.Sweep() {
		c.failMessage(env, errors.ErrMessageExpired, false)
	}
	c.sweepTimer.Reset(c.cfg.MessageQueue.SweepInterval)
}
