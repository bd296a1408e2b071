package wsconn

import (
	"context"
	"sync"
)

// eventDispatcher runs handlers on its own goroutine in the order they were added.
// A nil handler stops the loop after everything before it has run.
type eventDispatcher struct {
	handlers []func()
	cond     *sync.Cond
	closed   bool
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		cond: sync.NewCond(&sync.Mutex{}),
	}
}

func (d *eventDispatcher) dispatchLoop(ctx context.Context) {
	for {
		d.cond.L.Lock()
		for len(d.handlers) == 0 {
			if ctx.Err() != nil {
				d.cond.L.Unlock()
				return
			}
			d.cond.Wait()
		}
		handlers := make([]func(), len(d.handlers))
		copy(handlers, d.handlers)
		d.handlers = d.handlers[:0]
		d.cond.L.Unlock()

		for _, h := range handlers {
			if h == nil {
				return
			}
			h()
		}
	}
}

func (d *eventDispatcher) addHandler(f func()) {
	d.cond.L.Lock()
	defer d.cond.L.Unlock()
	if d.closed {
		return
	}
	d.handlers = append(d.handlers, f)
	d.cond.Signal()
}

// stop lets queued handlers finish, then ends dispatchLoop.
func (d *eventDispatcher) stop() {
	d.cond.L.Lock()
	defer d.cond.L.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.handlers = append(d.handlers, nil)
	d.cond.Signal()
}
