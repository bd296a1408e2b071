package websocket

import (
	"context"

	"github.com/aptpod/wsconn-go/transport"
)

// MessageTypeは、WebSocketのデータメッセージの種別です。
type MessageType int

const (
	MessageText   MessageType = iota + 1 // テキストメッセージ
	MessageBinary                        // バイナリメッセージ
)

// Connは、WebSocketライブラリを抽象化したコネクションです。
//
// 実装は次のようにエラーを変換して返却します。
//   - ピアからのクローズは transport.CloseError
//   - 自身で閉じた後の操作は transport.ErrClosed
//   - 読み込みサイズの上限超過は errors.ErrMessageTooLarge
//
// ReadMessageとWriteMessageはそれぞれ1つのゴルーチンから呼び出されます。
// PingとCloseWithStatusは他のメソッドと並行して呼び出される場合があります。
type Conn interface {
	// ReadMessageは、1メッセージを読み込みます。
	ReadMessage(ctx context.Context) (MessageType, []byte, error)

	// WriteMessageは、1メッセージを書き込みます。
	WriteMessage(ctx context.Context, tp MessageType, data []byte) error

	// Pingは、Pingを送信します。
	Ping(ctx context.Context) error

	// Subprotocolは、ハンドシェイクで合意したサブプロトコルを返却します。合意していない場合は空文字です。
	Subprotocol() string

	// CloseWithStatusは、指定したステータスでコネクションをクローズします。
	CloseWithStatus(code transport.CloseCode, reason string) error

	// Closeは、コネクションをクローズします。
	Close() error
}
