/*
Package nhooyr は、 nhooyr.io/websocket を使用した websocket.Conn の実装です。

インポートすると "nhooyr" という名前で DialFunc が登録されます。
*/
package nhooyr

import (
	"context"
	"strings"

	nwebsocket "nhooyr.io/websocket"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/transport"
	"github.com/aptpod/wsconn-go/transport/websocket"
)

// Nameは、DialFuncの登録名です。
const Name = "nhooyr"

func init() {
	websocket.RegisterDialFunc(Name, Dial)
}

var _ websocket.Conn = (*Conn)(nil)

// Connは、nhooyr.io/websocketのConnをwebsocket.Connとして扱うラッパーです。
//
// サーバー側でAcceptしたコネクションにも使用できます。
type Conn struct {
	ws *nwebsocket.Conn
}

// Newは、Connを返却します。
func New(ws *nwebsocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// ReadMessageは、1メッセージを読み込みます。
func (c *Conn) ReadMessage(ctx context.Context) (websocket.MessageType, []byte, error) {
	tp, data, err := c.ws.Read(ctx)
	if err != nil {
		return 0, nil, convertError("read", err)
	}
	if tp == nwebsocket.MessageText {
		return websocket.MessageText, data, nil
	}
	return websocket.MessageBinary, data, nil
}

// WriteMessageは、1メッセージを書き込みます。
func (c *Conn) WriteMessage(ctx context.Context, tp websocket.MessageType, data []byte) error {
	mt := nwebsocket.MessageBinary
	if tp == websocket.MessageText {
		mt = nwebsocket.MessageText
	}
	return convertError("write", c.ws.Write(ctx, mt, data))
}

// Pingは、WebSocketのPingを送信しPongを待ちます。
//
// Pongを受け取るためには、別のゴルーチンでReadMessageを呼び出している必要があります。
func (c *Conn) Ping(ctx context.Context) error {
	return convertError("ping", c.ws.Ping(ctx))
}

// Subprotocolは、ハンドシェイクで合意したサブプロトコルを返却します。
func (c *Conn) Subprotocol() string {
	return c.ws.Subprotocol()
}

// Closeは、正常ステータスでクローズします。
func (c *Conn) Close() error {
	return c.CloseWithStatus(transport.CloseNormal, "")
}

// CloseWithStatusは、クローズハンドシェイクを行います。
//
// 送信できないステータス(1005, 1006)はGoingAwayとして送信します。
func (c *Conn) CloseWithStatus(code transport.CloseCode, reason string) error {
	status := nwebsocket.StatusCode(code)
	if code == transport.CloseAbnormal || code == transport.CloseNoStatus {
		status = nwebsocket.StatusGoingAway
	}
	return convertError("close", c.ws.Close(status, reason))
}

func convertError(op string, err error) error {
	if err == nil {
		return nil
	}
	var closeErr nwebsocket.CloseError
	if errors.As(err, &closeErr) {
		return &transport.CloseError{Code: transport.CloseCode(closeErr.Code), Reason: closeErr.Reason}
	}
	// nhooyr.io/websocketは上限超過を型付きのエラーで返却しません。
	if strings.Contains(err.Error(), "read limited at") {
		return errors.Errorf("%s: %v: %w", op, err, errors.ErrMessageTooLarge)
	}
	if strings.Contains(err.Error(), "already wrote close") || strings.Contains(err.Error(), "connection closed") {
		return errors.Errorf("%s: %v: %w", op, err, transport.ErrClosed)
	}
	return websocket.WrapError(op, err)
}
