package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWSConnはwsconnライブラリで定義されている基底エラーです。
	ErrWSConn = errors.New("wsconn")

	// ErrInvalidConfigは、設定値の検証に失敗した場合のエラーです。
	ErrInvalidConfig = fmt.Errorf("invalid config: %w", ErrWSConn)
	// ErrConnClosedは、コネクションが明示的に切断された場合のエラーです。
	ErrConnClosed = fmt.Errorf("closed connection: %w", ErrWSConn)
	// ErrConnDestroyedは、破棄済みのコネクションを操作した場合のエラーです。
	ErrConnDestroyed = fmt.Errorf("destroyed connection: %w", ErrWSConn)
	// ErrMalformedMessageは、メッセージのエンコードやデコードに失敗した時のエラーです。
	ErrMalformedMessage = fmt.Errorf("malformed message: %w", ErrWSConn)
	// ErrMessageTooLargeは、メッセージが大きすぎる場合のエラーです。
	ErrMessageTooLarge = fmt.Errorf("message is too large: %w", ErrMalformedMessage)
	// ErrMessageDroppedは、送信できずにメッセージが破棄された場合のエラーです。
	ErrMessageDropped = fmt.Errorf("message dropped: %w", ErrWSConn)
	// ErrMessageExpiredは、有効期限切れによりメッセージが破棄された場合のエラーです。
	ErrMessageExpired = fmt.Errorf("message expired: %w", ErrMessageDropped)
	// ErrDuplicateMessageは、同じIDのメッセージが既に送信待ちのため拒否された場合のエラーです。
	ErrDuplicateMessage = fmt.Errorf("duplicate message: %w", ErrMessageDropped)
	// ErrAckTimeoutは、送信したメッセージの確認応答を待つ間にタイムアウトした場合のエラーです。
	ErrAckTimeout = fmt.Errorf("ack timeout: %w", ErrWSConn)

	// ErrConnectionTimeoutは、接続試行がタイムアウトした場合のエラーです。
	ErrConnectionTimeout = fmt.Errorf("connection timeout: %w", ErrWSConn)
	// ErrTransportは、トランスポート層で発生したエラーです。
	ErrTransport = fmt.Errorf("transport failure: %w", ErrWSConn)
	// ErrTransportClosedは、トランスポートが既に閉じられている場合のエラーです。
	ErrTransportClosed = fmt.Errorf("transport closed: %w", ErrTransport)
	// ErrReconnectExhaustedは、再接続の試行回数を使い切った場合のエラーです。
	ErrReconnectExhausted = fmt.Errorf("reconnect attempts exhausted: %w", ErrWSConn)
	// ErrQueueOverflowは、キューの上限を超えてメッセージが破棄された場合のエラーです。
	ErrQueueOverflow = fmt.Errorf("queue overflow: %w", ErrWSConn)

	// ErrNoHealthyConnectionは、コネクションプールに選択可能なコネクションが無い場合のエラーです。
	ErrNoHealthyConnection = fmt.Errorf("no healthy connection: %w", ErrWSConn)
	// ErrConnectionNotFoundは、指定した名前のコネクションがプールに存在しない場合のエラーです。
	ErrConnectionNotFound = fmt.Errorf("connection not found: %w", ErrWSConn)
	// ErrConnectionExistsは、同名のコネクションが既にプールに存在する場合のエラーです。
	ErrConnectionExists = fmt.Errorf("connection already exists: %w", ErrWSConn)
	// ErrPoolFullは、プールのコネクション数が上限に達している場合のエラーです。
	ErrPoolFull = fmt.Errorf("pool is full: %w", ErrWSConn)
	// ErrPoolClosedは、クローズ済みのプールを操作した場合のエラーです。
	ErrPoolClosed = fmt.Errorf("closed pool: %w", ErrWSConn)
)

// ConnectionTimeoutErrorは、接続試行がConnectionTimeout以内に完了しなかったことを表します。
type ConnectionTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *ConnectionTimeoutError) Error() string {
	return fmt.Sprintf("connect to %s timed out after %v", e.URL, e.Timeout)
}

func (e *ConnectionTimeoutError) Is(err error) bool {
	return err == ErrConnectionTimeout || err == ErrWSConn
}

// TransportErrorは、トランスポートの確立や読み書きに失敗したことを表します。
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(err error) bool {
	return err == ErrTransport || err == ErrWSConn
}

// DecodeErrorは、受信フレームのデコードに失敗したことを表します。
//
// コネクションは切断されず、フレームは破棄されます。
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame(%d bytes): %v", len(e.Frame), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(err error) bool {
	return err == ErrMalformedMessage || err == ErrWSConn
}

// QueueOverflowErrorは、キューから追い出されたメッセージを通知するための情報です。
//
// 送信呼び出しからは返却されず、イベントとしてのみ通知されます。
type QueueOverflowError struct {
	MaxSize    int
	EvictedIDs []string
}

func (e *QueueOverflowError) Error() string {
	return fmt.Sprintf("queue overflow (max size %d): evicted %d message(s)", e.MaxSize, len(e.EvictedIDs))
}

func (e *QueueOverflowError) Is(err error) bool {
	return err == ErrQueueOverflow || err == ErrWSConn
}

// ReconnectExhaustedErrorは、再接続の試行回数を使い切り、コネクションがCLOSEDへ遷移したことを表します。
type ReconnectExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d reconnect attempt(s): %v", e.Attempts, e.LastErr)
}

func (e *ReconnectExhaustedError) Unwrap() error {
	return e.LastErr
}

func (e *ReconnectExhaustedError) Is(err error) bool {
	return err == ErrReconnectExhausted || err == ErrWSConn
}

// NoHealthyConnectionErrorは、プール内に送信可能なコネクションが存在しないことを表します。
type NoHealthyConnectionError struct {
	Members int
}

func (e *NoHealthyConnectionError) Error() string {
	return fmt.Sprintf("no healthy connection among %d member(s)", e.Members)
}

func (e *NoHealthyConnectionError) Is(err error) bool {
	return err == ErrNoHealthyConnection || err == ErrWSConn
}

func New(text string) error {
	return errors.New(text)
}

func Errorf(format string, a ...any) error {
	return fmt.Errorf(format, a...)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Join(errs ...error) error {
	return errors.Join(errs...)
}
