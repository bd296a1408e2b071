package wsconn

import (
	"context"
	"sync"

	"github.com/aptpod/wsconn-go/encoding"
	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/log"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/transport"
)

const writeBufferSize = 1024

// session is one live transport and its reader and writer goroutines.
type session struct {
	gen       uint64
	tr        *encoding.Transport
	writeCh   chan message.Envelope
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *Conn) startSession(gen uint64, tr transport.Transport) *session {
	ctx, cancel := context.WithCancel(log.WithTrackSessionID(c.ctx))
	s := &session{
		gen: gen,
		tr: encoding.NewTransport(&encoding.TransportConfig{
			Transport:      tr,
			Encoding:       c.enc,
			MaxMessageSize: c.cfg.MaxMessageSize,
		}),
		writeCh: make(chan message.Envelope, writeBufferSize),
		cancel:  cancel,
	}
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop(ctx, s)
	}()
	go func() {
		defer c.wg.Done()
		c.writeLoop(ctx, s)
	}()
	return s
}

func (c *Conn) readLoop(ctx context.Context, s *session) {
	c.logger.Debugf(ctx, "Session %d started", s.gen)
	for {
		env, err := s.tr.Read(ctx)
		if err != nil {
			var de *errors.DecodeError
			if errors.As(err, &de) {
				c.post(func() { c.onDecodeError(s.gen, err) })
				continue
			}
			c.logger.Debugf(ctx, "Session %d ended: %v", s.gen, err)
			c.post(func() { c.onSessionEnded(s.gen, err) })
			return
		}
		c.post(func() { c.onInbound(s.gen, env) })
	}
}

func (c *Conn) writeLoop(ctx context.Context, s *session) {
	defer c.returnUnwritten(s)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.writeCh:
			err := s.tr.Write(ctx, env)
			c.post(func() { c.onWritten(s.gen, env, err) })
			if err != nil && !errors.Is(err, errors.ErrMalformedMessage) {
				// The actor closes the session once it sees the failure; nothing is
				// queued into writeCh after that.
				<-ctx.Done()
				return
			}
		}
	}
}

// returnUnwritten hands envelopes left in writeCh back to the queue.
func (c *Conn) returnUnwritten(s *session) {
	var rest []message.Envelope
	for {
		select {
		case env := <-s.writeCh:
			if !env.Type.IsControl() {
				rest = append(rest, env)
			}
		default:
			if len(rest) > 0 {
				c.post(func() { c.requeue(rest...) })
			}
			return
		}
	}
}

// closeSession stops the writer and closes the transport off the actor goroutine,
// since some transports block until the peer answers the close frame.
func (c *Conn) closeSession(s *session, code transport.CloseCode, reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := s.tr.CloseWithStatus(code, reason); err != nil && !errors.Is(err, transport.ErrClosed) {
				c.logger.Debugf(c.ctx, "Close transport: %v", err)
			}
		}()
	})
}
