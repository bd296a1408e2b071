package websocket

import (
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/transport"
)

// WrapErrorは、Conn実装が下位のエラーを変換する際の共通処理です。
//
// 下位のネットワークコネクションが既に閉じている場合は transport.ErrClosed 、
// それ以外は *errors.TransportError として返却します。
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isNetClosed(err) {
		return errors.Errorf("%s: %v: %w", op, err, transport.ErrClosed)
	}
	return &errors.TransportError{Op: op, Err: err}
}

func isNetClosed(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	if errors.Is(opErr, syscall.EPIPE) || errors.Is(opErr, syscall.ECONNRESET) {
		return true
	}
	var sysErr *os.SyscallError
	return errors.As(opErr.Err, &sysErr) && sysErr.Err.Error() == "connection reset by peer"
}

// closeOnce runs the close function once and keeps its result.
type closeOnce struct {
	once sync.Once
	err  error
}

func (c *closeOnce) do(f func() error) error {
	c.once.Do(func() { c.err = f() })
	return c.err
}
