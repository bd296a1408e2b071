package transport

import (
	"context"
	"sync"

	"github.com/aptpod/wsconn-go/errors"
)

const pipeBufferSize = 128

type pipeEnd struct {
	once     sync.Once
	closedCh chan struct{}
	closeErr *CloseError
}

func newPipeEnd() *pipeEnd {
	return &pipeEnd{closedCh: make(chan struct{})}
}

func (e *pipeEnd) close(code CloseCode, reason string) {
	e.once.Do(func() {
		e.closeErr = &CloseError{Code: code, Reason: reason}
		close(e.closedCh)
	})
}

type pipe struct {
	rx <-chan Frame
	tx chan<- Frame

	local  *pipeEnd
	remote *pipeEnd
}

func (p *pipe) Read(ctx context.Context) (Frame, error) {
	select {
	case <-p.local.closedCh:
		return Frame{}, ErrClosed
	default:
	}
	// Deliver frames that were written before the remote end was closed.
	select {
	case f := <-p.rx:
		return f, nil
	default:
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-p.local.closedCh:
		return Frame{}, ErrClosed
	case f := <-p.rx:
		return f, nil
	case <-p.remote.closedCh:
		select {
		case f := <-p.rx:
			return f, nil
		default:
		}
		return Frame{}, p.remote.closeErr
	}
}

func (p *pipe) Write(ctx context.Context, f Frame) error {
	select {
	case <-p.local.closedCh:
		return ErrClosed
	case <-p.remote.closedCh:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.local.closedCh:
		return ErrClosed
	case <-p.remote.closedCh:
		return ErrClosed
	case p.tx <- Frame{Type: f.Type, Data: append([]byte(nil), f.Data...)}:
		return nil
	}
}

func (p *pipe) CloseWithStatus(code CloseCode, reason string) error {
	p.local.close(code, reason)
	return nil
}

func (p *pipe) Close() error {
	return p.CloseWithStatus(CloseNormal, "")
}

// Pipeは、メモリ上で接続された1組のTransportを返却します。
//
// 片方を閉じると、もう片方のReadは閉じた側のステータスを持つ CloseError を返却します。
func Pipe() (Transport, Transport) {
	ch1 := make(chan Frame, pipeBufferSize)
	ch2 := make(chan Frame, pipeBufferSize)
	end1, end2 := newPipeEnd(), newPipeEnd()
	return &pipe{
			rx:     ch2,
			tx:     ch1,
			local:  end1,
			remote: end2,
		}, &pipe{
			rx:     ch1,
			tx:     ch2,
			local:  end2,
			remote: end1,
		}
}

// Copyは、srcから読み出したフレームをdstへ書き込み続けます。
//
// どちらかが閉じられた場合はnilを返却します。
func Copy(ctx context.Context, dst Transport, src Transport) error {
	for {
		f, err := src.Read(ctx)
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return err
		}
		if err := dst.Write(ctx, f); err != nil {
			if isClosed(err) {
				return nil
			}
			return err
		}
	}
}

func isClosed(err error) bool {
	if errors.Is(err, EOF) || errors.Is(err, ErrClosed) {
		return true
	}
	var closeErr *CloseError
	return errors.As(err, &closeErr)
}
