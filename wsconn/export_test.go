package wsconn

import (
	"time"

	"github.com/aptpod/wsconn-go/message"
)

var (
	BuildEnvelope    = buildEnvelope
	NewLatencyWindow = newLatencyWindow
)

// QueueSnapshot returns the queued envelopes in send order.
func (c *Conn) QueueSnapshot() []message.Envelope {
	if c.queue == nil {
		return nil
	}
	return c.queue.Snapshot()
}

func (w *latencyWindow) Add(d time.Duration)    { w.add(d) }
func (w *latencyWindow) Average() time.Duration { return w.average() }
