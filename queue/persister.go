package queue

import (
	"context"
	"sync"
	"time"

	"github.com/aptpod/wsconn-go/internal/ch"
	"github.com/aptpod/wsconn-go/internal/retry"
	"github.com/aptpod/wsconn-go/log"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/storage"
)

const persistTimeout = 5 * time.Second

var persistPolicy = retry.Policy{
	Strategy:     retry.StrategyExponential,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     time.Second,
	MaxAttempts:  3,
	Multiplier:   2,
	Jitter:       10 * time.Millisecond,
}

// persister writes queue snapshots to the store in the background.
// Only the latest snapshot is kept; intermediate ones are skipped.
type persister struct {
	store   storage.Store
	key     string
	logger  log.Logger
	onError func(error)

	mu      sync.Mutex
	pending []message.Envelope
	dirty   bool

	signal    chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func newPersister(store storage.Store, key string, logger log.Logger, onError func(error)) *persister {
	p := &persister{
		store:   store,
		key:     key,
		logger:  logger,
		onError: onError,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) schedule(snapshot []message.Envelope) {
	p.mu.Lock()
	p.pending = snapshot
	p.dirty = true
	p.mu.Unlock()
	ch.Signal(p.signal)
}

func (p *persister) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.signal:
			p.flush()
		case <-p.done:
			p.flush()
			return
		}
	}
}

func (p *persister) flush() {
	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return
	}
	snapshot := p.pending
	p.pending = nil
	p.dirty = false
	p.mu.Unlock()

	err := retry.Retry{Policy: persistPolicy, Done: p.done}.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if len(snapshot) == 0 {
			return p.store.Clear(ctx, p.key)
		}
		return p.store.Save(ctx, p.key, snapshot)
	})
	if err == nil {
		return
	}
	p.logger.Errorf(context.Background(), "Failed to persist message queue %q: %v", p.key, err)
	if p.onError != nil {
		p.onError(err)
	}
}

func (p *persister) close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
