package transport

import (
	"context"
	"fmt"

	"github.com/aptpod/wsconn-go/errors"
)

// FrameTypeは、フレームの種別です。
type FrameType int

const (
	FrameText   FrameType = iota + 1 // テキストフレーム
	FrameBinary                      // バイナリフレーム
)

func (t FrameType) String() string {
	switch t {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	}
	return fmt.Sprintf("FrameType(%d)", int(t))
}

// Frameは、トランスポートで送受信する1メッセージ分のデータです。
type Frame struct {
	Type FrameType
	Data []byte
}

// TextFrameは、テキストフレームを返却します。
func TextFrame(s string) Frame {
	return Frame{Type: FrameText, Data: []byte(s)}
}

// BinaryFrameは、バイナリフレームを返却します。
func BinaryFrame(bs []byte) Frame {
	return Frame{Type: FrameBinary, Data: bs}
}

// CloseCodeは、WebSocketのクローズステータスコードです。
type CloseCode int

const (
	CloseNormal        CloseCode = 1000
	CloseGoingAway     CloseCode = 1001
	CloseProtocolError CloseCode = 1002
	CloseNoStatus      CloseCode = 1005
	CloseAbnormal      CloseCode = 1006
	CloseMessageTooBig CloseCode = 1009
	CloseInternalError CloseCode = 1011
)

// IsNormalは、正常なクローズかどうかを返却します。
func (c CloseCode) IsNormal() bool {
	return c == CloseNormal || c == CloseGoingAway
}

// CloseErrorは、リモートからクローズされたことを表すエラーです。
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("closed by peer: status %d", e.Code)
	}
	return fmt.Sprintf("closed by peer: status %d: %s", e.Code, e.Reason)
}

func (e *CloseError) Is(err error) bool {
	return err == errors.ErrTransport || err == errors.ErrWSConn
}

// CloseCodeOfは、エラーに対応するクローズステータスを返却します。
//
// CloseErrorを含まない場合はCloseAbnormalを返却します。
func CloseCodeOf(err error) CloseCode {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return CloseAbnormal
}

/*
Transport は、 WebSocketスタイルの全二重ソケットを抽象化したインターフェースです。

Read と Write はそれぞれ1つのゴルーチンから呼び出されることを前提とします。
CloseWithStatus と Close は任意のゴルーチンから呼び出すことができます。
*/
type Transport interface {
	// Read は、1フレーム読み出します。
	//
	// ピアからクローズされた場合は CloseError 、自身で閉じた場合は ErrClosed を返却します。
	Read(ctx context.Context) (Frame, error)

	// Write は、1フレーム書き込みます。
	Write(ctx context.Context, f Frame) error

	// CloseWithStatus は、指定したステータスでトランスポートを閉じます。
	CloseWithStatus(code CloseCode, reason string) error

	// Close は、正常ステータスでトランスポートを閉じます。
	Close() error
}

// ProtocolNegotiatorは、ハンドシェイクでサブプロトコルを合意するトランスポートが実装するインターフェースです。
type ProtocolNegotiator interface {
	Subprotocol() string
}

// NegotiatedProtocolは、トランスポートが合意したサブプロトコルを返却します。
//
// ProtocolNegotiatorを実装しないトランスポートの場合は空文字を返却します。
func NegotiatedProtocol(t Transport) string {
	if n, ok := t.(ProtocolNegotiator); ok {
		return n.Subprotocol()
	}
	return ""
}

// DialConfigは、Dialerへ渡す接続パラメータです。
type DialConfig struct {
	// URLは接続先URLです。
	URL string
	// Protocolsは、ネゴシエーションするサブプロトコルです。
	Protocols []string
	// Headerは、ハンドシェイク時に追加するヘッダーです。
	Header map[string][]string
}

// Dialerは、Transportを確立するインターフェースです。
//
// Dialが成功した時点でトランスポートはオープン済みです。
type Dialer interface {
	Dial(ctx context.Context, c DialConfig) (Transport, error)
}

// DialerFuncは、関数をDialerとして扱うためのアダプターです。
type DialerFunc func(ctx context.Context, c DialConfig) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, c DialConfig) (Transport, error) {
	return f(ctx, c)
}
