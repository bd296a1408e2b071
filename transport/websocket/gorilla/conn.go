/*
Package gorilla は、 github.com/gorilla/websocket を使用した websocket.Conn の実装です。

インポートすると "gorilla" という名前で DialFunc が登録されます。
*/
package gorilla

import (
	"context"
	"sync"
	"time"

	gwebsocket "github.com/gorilla/websocket"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/transport"
	"github.com/aptpod/wsconn-go/transport/websocket"
)

// Nameは、DialFuncの登録名です。
const Name = "gorilla"

func init() {
	websocket.RegisterDialFunc(Name, Dial)
}

// controlWriteTimeoutは、期限のないコンテキストで制御フレームを書き込む際の期限です。
const controlWriteTimeout = time.Second

var _ websocket.Conn = (*Conn)(nil)

// Connは、gorilla/websocketのConnをwebsocket.Connとして扱うラッパーです。
type Conn struct {
	ws *gwebsocket.Conn

	closeOnce sync.Once
	closeErr  error
}

// Newは、Connを返却します。
func New(ws *gwebsocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// ReadMessageは、1メッセージを読み込みます。
//
// gorilla/websocketは読み込みのキャンセルに対応していないため、ctxは使用しません。
// 読み込みを中断する場合はCloseWithStatusを呼び出します。
func (c *Conn) ReadMessage(context.Context) (websocket.MessageType, []byte, error) {
	for {
		tp, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, nil, convertError("read", err)
		}
		switch tp {
		case gwebsocket.TextMessage:
			return websocket.MessageText, data, nil
		case gwebsocket.BinaryMessage:
			return websocket.MessageBinary, data, nil
		}
	}
}

// WriteMessageは、1メッセージを書き込みます。ctxの期限を書き込み期限として使用します。
func (c *Conn) WriteMessage(ctx context.Context, tp websocket.MessageType, data []byte) error {
	deadline, _ := ctx.Deadline()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return convertError("write", err)
	}
	mt := gwebsocket.BinaryMessage
	if tp == websocket.MessageText {
		mt = gwebsocket.TextMessage
	}
	return convertError("write", c.ws.WriteMessage(mt, data))
}

// Pingは、WebSocketのPingを送信します。
func (c *Conn) Ping(ctx context.Context) error {
	return convertError("ping", c.ws.WriteControl(gwebsocket.PingMessage, nil, controlDeadline(ctx)))
}

// Subprotocolは、ハンドシェイクで合意したサブプロトコルを返却します。
func (c *Conn) Subprotocol() string {
	return c.ws.Subprotocol()
}

// Closeは、正常ステータスでクローズします。
func (c *Conn) Close() error {
	return c.CloseWithStatus(transport.CloseNormal, "")
}

// CloseWithStatusは、クローズフレームを送信して下位のコネクションを閉じます。
//
// 送信できないステータス(1005, 1006)の場合はクローズフレームを送信しません。
func (c *Conn) CloseWithStatus(code transport.CloseCode, reason string) error {
	c.closeOnce.Do(func() {
		if code != transport.CloseAbnormal && code != transport.CloseNoStatus {
			msg := gwebsocket.FormatCloseMessage(int(code), reason)
			err := c.ws.WriteControl(gwebsocket.CloseMessage, msg, controlDeadline(context.Background()))
			if err != nil && !errors.Is(err, gwebsocket.ErrCloseSent) {
				c.closeErr = convertError("close", err)
			}
		}
		if err := c.ws.Close(); err != nil && c.closeErr == nil {
			c.closeErr = convertError("close", err)
		}
	})
	return c.closeErr
}

func controlDeadline(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Now().Add(controlWriteTimeout)
}

func convertError(op string, err error) error {
	if err == nil {
		return nil
	}
	var closeErr *gwebsocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		return &transport.CloseError{Code: transport.CloseCode(closeErr.Code), Reason: closeErr.Text}
	case errors.Is(err, gwebsocket.ErrReadLimit):
		return errors.Errorf("%s: %v: %w", op, err, errors.ErrMessageTooLarge)
	case errors.Is(err, gwebsocket.ErrCloseSent):
		return errors.Errorf("%s: %v: %w", op, err, transport.ErrClosed)
	}
	return websocket.WrapError(op, err)
}
