package websocket

import (
	"context"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/transport"
)

var (
	_ transport.Transport          = (*Transport)(nil)
	_ transport.ProtocolNegotiator = (*Transport)(nil)
)

// Configは、Transportの設定です。
type Config struct {
	// Connは、WebSocketのコネクションです。必須です。
	Conn Conn
}

// Transportは、WebSocketの1メッセージを1フレームとして扱うトランスポートです。
type Transport struct {
	conn Conn

	closed closeOnce
}

// Newは、Transportを返却します。ConnがnilのConfigを渡すとパニックします。
func New(c Config) *Transport {
	if c.Conn == nil {
		panic("websocket: Config.Conn is nil")
	}
	return &Transport{conn: c.Conn}
}

// Readは、1フレーム読み込みます。
func (t *Transport) Read(ctx context.Context) (transport.Frame, error) {
	tp, data, err := t.conn.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrMessageTooLarge) {
			_ = t.CloseWithStatus(transport.CloseMessageTooBig, "message too big")
		}
		return transport.Frame{}, err
	}
	switch tp {
	case MessageText:
		return transport.Frame{Type: transport.FrameText, Data: data}, nil
	case MessageBinary:
		return transport.Frame{Type: transport.FrameBinary, Data: data}, nil
	}
	return transport.Frame{}, errors.Errorf("unknown message type %d: %w", tp, errors.ErrMalformedMessage)
}

// Writeは、1フレーム書き込みます。
func (t *Transport) Write(ctx context.Context, f transport.Frame) error {
	tp := MessageBinary
	if f.Type == transport.FrameText {
		tp = MessageText
	}
	return t.conn.WriteMessage(ctx, tp, f.Data)
}

// Pingは、WebSocketのPingを送信します。
func (t *Transport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

// Subprotocolは、ハンドシェイクで合意したサブプロトコルを返却します。
func (t *Transport) Subprotocol() string {
	return t.conn.Subprotocol()
}

// Closeは、正常ステータスでトランスポートを閉じます。
func (t *Transport) Close() error {
	return t.CloseWithStatus(transport.CloseNormal, "")
}

// CloseWithStatusは、指定したステータスでトランスポートを閉じます。
//
// 2回目以降の呼び出しは1回目の結果を返却します。
func (t *Transport) CloseWithStatus(code transport.CloseCode, reason string) error {
	return t.closed.do(func() error {
		err := t.conn.CloseWithStatus(code, reason)
		if err != nil && !errors.Is(err, transport.ErrClosed) {
			return errors.Errorf("close transport: %w", err)
		}
		return nil
	})
}
