package wsconn

import (
	"fmt"
	"time"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/internal/ch"
	"github.com/aptpod/wsconn-go/message"
)

// heartbeatState is owned by the actor goroutine.
type heartbeatState struct {
	tick     *time.Timer
	timeout  *time.Timer
	seq      uint64
	awaiting bool
	sentAt   time.Time
	failures int
}

func (c *Conn) startHeartbeat() {
	if !c.cfg.Heartbeat.Enabled || c.sess == nil {
		return
	}
	c.stopHeartbeat()
	gen := c.sess.gen
	c.hb.tick = time.AfterFunc(c.cfg.Heartbeat.Interval, func() {
		c.post(func() { c.onHeartbeatTick(gen) })
	})
}

func (c *Conn) stopHeartbeat() {
	if c.hb.tick != nil {
		c.hb.tick.Stop()
	}
	if c.hb.timeout != nil {
		c.hb.timeout.Stop()
	}
	c.hb = heartbeatState{seq: c.hb.seq}
	c.setHeartbeatFailures(0)
}

func (c *Conn) onHeartbeatTick(gen uint64) {
	if c.sess == nil || c.sess.gen != gen || c.currentState() != StateConnected {
		return
	}
	c.hb.tick.Reset(c.cfg.Heartbeat.Interval)
	if c.hb.awaiting {
		return
	}

	env := message.New(message.TypeHeartbeat, []byte(c.cfg.Heartbeat.Message))
	env.Priority = message.PriorityHigh
	if !ch.TryWrite(env, c.sess.writeCh) {
		c.logger.Debugf(c.ctx, "Skipped heartbeat, writer is busy")
		return
	}
	c.hb.seq++
	seq := c.hb.seq
	c.hb.awaiting = true
	c.hb.sentAt = time.Now()
	c.hb.timeout = time.AfterFunc(c.cfg.Heartbeat.Timeout, func() {
		c.post(func() { c.onHeartbeatTimeout(gen, seq) })
	})
}

func (c *Conn) onHeartbeatTimeout(gen, seq uint64) {
	if c.sess == nil || c.sess.gen != gen || !c.hb.awaiting || c.hb.seq != seq {
		return
	}
	c.hb.awaiting = false
	c.hb.failures++
	failures := c.hb.failures
	c.setHeartbeatFailures(failures)
	c.updateStats(func(s *Stats) { s.HeartbeatFailures++ })
	c.logger.Warnf(c.ctx, "Heartbeat timed out after %v (%d/%d)", c.cfg.Heartbeat.Timeout, failures, c.cfg.Heartbeat.MaxFailures)
	c.emit(&HeartbeatTimeoutEvent{Failures: failures})

	if failures >= c.cfg.Heartbeat.MaxFailures {
		c.handleFailure(&errors.TransportError{
			Op:  "heartbeat",
			Err: fmt.Errorf("no response for %d heartbeat(s)", failures),
		})
	}
}

// onLiveness records a pong, or any inbound traffic when that counts as alive.
func (c *Conn) onLiveness(pong bool) {
	if !c.cfg.Heartbeat.Enabled {
		return
	}
	now := time.Now()
	if c.hb.awaiting {
		if c.hb.timeout != nil {
			c.hb.timeout.Stop()
		}
		c.hb.awaiting = false
		if pong {
			c.latency.add(now.Sub(c.hb.sentAt))
		}
	}
	c.hb.failures = 0
	c.setHeartbeatFailures(0)
	avg := c.latency.average()
	c.updateStats(func(s *Stats) {
		s.LastHeartbeatAt = now
		s.AverageLatency = avg
	})
}

func (c *Conn) setHeartbeatFailures(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hbFailures = n
}
