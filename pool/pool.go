package pool

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/log"
	"github.com/aptpod/wsconn-go/wsconn"
)

// Poolは、名前付きのコネクションの集合を保持し、送信先を振り分けます。
//
// メンバーの集合は1つのロックで保護されます。送信先の選択は読み取りロック、
// メンバーの追加と削除は書き込みロックの下で行われるため、削除中のメンバーが選択されることはありません。
type Pool struct {
	cfg    Config
	logger log.Logger
	ctx    context.Context

	mu      sync.RWMutex
	members map[string]*member
	names   []string
	closed  bool

	sel  selector
	subs subscribers

	routed     atomic.Uint64
	broadcasts atomic.Uint64
	failed     atomic.Uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

type member struct {
	name     string
	priority int
	weight   int
	conn     *wsconn.Conn
	addedAt  time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	probes      sync.WaitGroup

	sent atomic.Uint64

	// guarded by Pool.mu
	eligible bool
	healthy  bool
	failures int
}

func (m *member) selectable() bool {
	return m.eligible && m.healthy && m.conn.State() == wsconn.StateConnected
}

// Deliveryは、Sendで選択されたメンバーと送信したメッセージのIDです。
type Delivery struct {
	Member string
	ID     string
}

// Newは、Poolを生成します。
func New(opts ...Option) (*Pool, error) {
	conf := defaultConfig
	for _, o := range opts {
		o(&conf)
	}
	return NewWithConfig(&conf)
}

// NewWithConfigは、Configを指定してPoolを生成します。
//
// 設定値が不正な場合は errors.ErrInvalidConfig を返却します。
func NewWithConfig(c *Config) (*Pool, error) {
	conf := *c
	conf.EventHandlers = slices.Clone(c.EventHandlers)
	if err := conf.validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:     conf,
		logger:  conf.Logger,
		ctx:     context.Background(),
		members: map[string]*member{},
		stop:    make(chan struct{}),
	}
	for _, h := range conf.EventHandlers {
		p.subs.add(h)
	}
	if conf.HealthCheck.Enabled {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.healthLoop()
		}()
	}
	return p, nil
}

// Subscribeは、イベントハンドラを登録します。返却された関数を呼び出すと登録を解除します。
func (p *Pool) Subscribe(h EventHandler) (unsubscribe func()) {
	return p.subs.add(h)
}

func (p *Pool) emit(evs ...Event) {
	hs := p.subs.snapshot()
	for _, ev := range evs {
		for _, h := range hs {
			h.OnEvent(ev)
		}
	}
}

// AddConnectionは、メンバーを追加して接続を開始します。
//
// 接続の完了は待ちません。メンバーは最初にCONNECTEDへ遷移した時点で送信先の選択対象になります。
// 同名のメンバーが存在する場合は errors.ErrConnectionExists 、
// メンバー数が上限に達している場合は errors.ErrPoolFull を返却します。
func (p *Pool) AddConnection(ctx context.Context, mc MemberConfig) error {
	if err := mc.validate(); err != nil {
		return err
	}
	conn := mc.Conn
	if conn == nil {
		opts := append([]wsconn.ConnOption{wsconn.WithConnLogger(p.logger)}, mc.Options...)
		c, err := wsconn.New(mc.URL, opts...)
		if err != nil {
			return err
		}
		conn = c
	}

	mctx, cancel := context.WithCancel(log.WithTrackMember(log.WithTrackConnID(p.ctx, conn.ID()), mc.Name))
	m := &member{
		name:     mc.Name,
		priority: mc.Priority,
		weight:   mc.Weight,
		conn:     conn,
		addedAt:  time.Now(),
		ctx:      mctx,
		cancel:   cancel,
		healthy:  true,
	}

	if err := p.insert(m); err != nil {
		cancel()
		if dErr := conn.Destroy(ctx); dErr != nil {
			p.logger.Warnf(mctx, "Failed to destroy rejected member %s: %v", mc.Name, dErr)
		}
		return err
	}
	p.logger.Infof(mctx, "Added member %s (%s)", m.name, conn.URL())
	p.emit(&ConnectionAddedEvent{Name: m.name})

	go func() {
		defer p.wg.Done()
		if err := conn.Connect(mctx); err != nil {
			if mctx.Err() == nil {
				p.logger.Warnf(mctx, "Member %s failed to connect: %v", m.name, err)
			}
			return
		}
		p.markEligible(m)
	}()
	return nil
}

func (p *Pool) insert(m *member) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.ErrPoolClosed
	}
	if _, ok := p.members[m.name]; ok {
		return fmt.Errorf("member %s: %w", m.name, errors.ErrConnectionExists)
	}
	if limit := p.cfg.MaxConnections; limit > 0 && len(p.members) >= limit {
		return fmt.Errorf("max connections %d: %w", limit, errors.ErrPoolFull)
	}
	p.members[m.name] = m
	i := sort.SearchStrings(p.names, m.name)
	p.names = slices.Insert(p.names, i, m.name)
	m.unsubscribe = m.conn.Subscribe(p.memberHandler(m))
	if m.conn.State() == wsconn.StateConnected {
		m.eligible = true
	}
	// Close waits for the connect goroutine, so it is counted while the pool is still open.
	p.wg.Add(1)
	return nil
}

func (p *Pool) memberHandler(m *member) wsconn.EventHandler {
	return wsconn.EventHandlerFunc(func(ev wsconn.Event) {
		switch ev := ev.(type) {
		case *wsconn.ConnectedEvent:
			p.markEligible(m)
		case *wsconn.DisconnectedEvent:
			if ev.Err != nil {
				p.logger.Warnf(m.ctx, "Member %s failed: %v", m.name, ev.Err)
				p.emit(&ConnectionFailedEvent{Name: m.name, Err: ev.Err})
			}
		case *wsconn.MessageReceivedEvent:
			p.emit(&MessageReceivedEvent{Name: m.name, Envelope: ev.Envelope})
		}
	})
}

func (p *Pool) markEligible(m *member) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members[m.name] != m || m.eligible {
		return
	}
	m.eligible = true
	p.logger.Debugf(m.ctx, "Member %s is eligible", m.name)
}

// RemoveConnectionは、メンバーをプールから削除してコネクションを破棄します。
//
// 実行中のヘルスチェックが終了するまで待ちます。
func (p *Pool) RemoveConnection(ctx context.Context, name string) error {
	m, err := p.detach(name)
	if err != nil {
		return err
	}
	err = p.release(ctx, m)
	p.emit(&ConnectionRemovedEvent{Name: name})
	return err
}

func (p *Pool) detach(name string) (*member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.members[name]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", name, errors.ErrConnectionNotFound)
	}
	delete(p.members, name)
	if i, found := slices.BinarySearch(p.names, name); found {
		p.names = slices.Delete(p.names, i, i+1)
	}
	p.sel.forget(name)
	return m, nil
}

func (p *Pool) release(ctx context.Context, m *member) error {
	m.cancel()
	m.unsubscribe()
	m.probes.Wait()
	err := m.conn.Destroy(ctx)
	p.logger.Infof(m.ctx, "Removed member %s", m.name)
	return err
}

// candidatesLocked returns the selectable members sorted by name.
func (p *Pool) candidatesLocked() []*member {
	res := make([]*member, 0, len(p.names))
	for _, name := range p.names {
		if m := p.members[name]; m.selectable() {
			res = append(res, m)
		}
	}
	return res
}

// Sendは、選択方式に従って正常なメンバーを1つ選択し、メッセージを送信します。
//
// 正常なメンバーが存在しない場合は *errors.NoHealthyConnectionError を返却します。
func (p *Pool) Send(payload any, opts ...wsconn.SendOption) (Delivery, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return Delivery{}, errors.ErrPoolClosed
	}
	cands := p.candidatesLocked()
	if len(cands) == 0 {
		return Delivery{}, &errors.NoHealthyConnectionError{Members: len(p.members)}
	}
	return p.sendLocked(p.sel.pick(p.cfg.Strategy, cands), payload, opts)
}

// SendKeyedは、キーに対して一貫したメンバーを選択してメッセージを送信します。
//
// 同じキーは、正常なメンバーの集合が変わらない限り同じメンバーへ送信されます。
func (p *Pool) SendKeyed(key string, payload any, opts ...wsconn.SendOption) (Delivery, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return Delivery{}, errors.ErrPoolClosed
	}
	cands := p.candidatesLocked()
	if len(cands) == 0 {
		return Delivery{}, &errors.NoHealthyConnectionError{Members: len(p.members)}
	}
	return p.sendLocked(lookupKeyed(key, cands), payload, opts)
}

// SendToは、名前を指定したメンバーへメッセージを送信します。
//
// メンバーの状態に関わらず送信を試みます。切断中の場合はメンバーのキューに積まれます。
func (p *Pool) SendTo(name string, payload any, opts ...wsconn.SendOption) (Delivery, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return Delivery{}, errors.ErrPoolClosed
	}
	m, ok := p.members[name]
	if !ok {
		return Delivery{}, fmt.Errorf("member %s: %w", name, errors.ErrConnectionNotFound)
	}
	return p.sendLocked(m, payload, opts)
}

func (p *Pool) sendLocked(m *member, payload any, opts []wsconn.SendOption) (Delivery, error) {
	id, err := m.conn.Send(payload, opts...)
	if err != nil {
		p.failed.Add(1)
		return Delivery{Member: m.name}, fmt.Errorf("send to %s: %w", m.name, err)
	}
	m.sent.Add(1)
	p.routed.Add(1)
	return Delivery{Member: m.name, ID: id}, nil
}

// BroadcastErrorは、Broadcastで送信に失敗したメンバーとそのエラーです。
type BroadcastError struct {
	Total    int
	Failures map[string]error
}

func (e *BroadcastError) Error() string {
	names := e.failedNames()
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %v", name, e.Failures[name])
	}
	return fmt.Sprintf("broadcast failed on %d of %d member(s): %s", len(names), e.Total, strings.Join(parts, "; "))
}

func (e *BroadcastError) Unwrap() []error {
	names := e.failedNames()
	res := make([]error, len(names))
	for i, name := range names {
		res[i] = e.Failures[name]
	}
	return res
}

func (e *BroadcastError) failedNames() []string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Broadcastは、全てのメンバーへメッセージを送信します。
//
// 一部のメンバーへの送信に失敗しても、残りのメンバーへの送信は継続します。
// 失敗したメンバーがある場合は *BroadcastError を返却します。
func (p *Pool) Broadcast(ctx context.Context, payload any, opts ...wsconn.SendOption) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.ErrPoolClosed
	}
	p.broadcasts.Add(1)

	var (
		eg       errgroup.Group
		mu       sync.Mutex
		failures = map[string]error{}
	)
	if n := p.cfg.BroadcastConcurrency; n > 0 {
		eg.SetLimit(n)
	}
	for _, name := range p.names {
		m := p.members[name]
		eg.Go(func() error {
			err := ctx.Err()
			if err == nil {
				_, err = m.conn.Send(payload, opts...)
			}
			if err != nil {
				p.failed.Add(1)
				mu.Lock()
				failures[m.name] = err
				mu.Unlock()
				return nil
			}
			m.sent.Add(1)
			return nil
		})
	}
	eg.Wait()

	if len(failures) > 0 {
		return &BroadcastError{Total: len(p.names), Failures: failures}
	}
	return nil
}

// MemberStatusは、メンバーの状態です。
type MemberStatus struct {
	Name           string
	URL            string
	State          wsconn.State
	Eligible       bool
	Healthy        bool
	HealthFailures int
	Priority       int
	Weight         int
	Sent           uint64
	QueueLength    int
	AddedAt        time.Time
	Stats          wsconn.Stats
}

// Statusは、全メンバーの状態を名前順に返却します。
func (p *Pool) Status() []MemberStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res := make([]MemberStatus, 0, len(p.names))
	for _, name := range p.names {
		m := p.members[name]
		res = append(res, MemberStatus{
			Name:           m.name,
			URL:            m.conn.URL(),
			State:          m.conn.State(),
			Eligible:       m.eligible,
			Healthy:        m.healthy,
			HealthFailures: m.failures,
			Priority:       m.priority,
			Weight:         m.weight,
			Sent:           m.sent.Load(),
			QueueLength:    m.conn.QueueLength(),
			AddedAt:        m.addedAt,
			Stats:          m.conn.Stats(),
		})
	}
	return res
}

// Statsは、プールの統計情報です。
type Stats struct {
	Members    int
	Connected  int
	Healthy    int
	Routed     uint64
	Broadcasts uint64
	Failed     uint64
}

// Statsは、プールの統計情報を返却します。
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := Stats{
		Members:    len(p.members),
		Routed:     p.routed.Load(),
		Broadcasts: p.broadcasts.Load(),
		Failed:     p.failed.Load(),
	}
	for _, m := range p.members {
		if m.conn.State() == wsconn.StateConnected {
			s.Connected++
		}
		if m.selectable() {
			s.Healthy++
		}
	}
	return s
}

// Closeは、全てのメンバーを削除してプールを閉じます。
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	ms := make([]*member, 0, len(p.names))
	for _, name := range p.names {
		ms = append(ms, p.members[name])
	}
	p.members = map[string]*member{}
	p.names = nil
	p.mu.Unlock()

	close(p.stop)

	var eg errgroup.Group
	for _, m := range ms {
		eg.Go(func() error {
			err := p.release(ctx, m)
			p.emit(&ConnectionRemovedEvent{Name: m.name})
			return err
		})
	}
	err := eg.Wait()
	p.wg.Wait()
	return err
}
