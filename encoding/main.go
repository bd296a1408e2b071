/*
Package encoding は、エンベロープとトランスポートのフレームを相互に変換するエンコーディングをまとめたパッケージです。
*/
package encoding

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/transport"
)

/*
Encoding は、エンコード層を抽象化したインターフェースです。

実装は複数のゴルーチンから同時に呼び出されても安全である必要があります。
*/
type Encoding interface {
	// Encode は、エンベロープを1フレームへエンコードします。
	Encode(message.Envelope) (transport.Frame, error)

	// Decode は、1フレームをエンベロープへデコードします。
	//
	// 不正なフレームの場合は errors.ErrMalformedMessage をラップしたエラーを返却します。
	Decode(transport.Frame) (message.Envelope, error)

	// Name は、このエンコーディングの識別名を返します。
	Name() Name
}

// Name は、エンコーディングの識別名を表します。
type Name string

const (
	// NameJSON は、 JSON 形式のエンコーディングを表す名称です。
	NameJSON Name = "json"

	// NameProtobuf は、 Protocol Buffers 形式のエンコーディングを表す名称です。
	NameProtobuf Name = "protobuf"
)

var (
	registryMu sync.RWMutex
	registry   = map[Name]func() Encoding{}
)

// Registerは、名前付きでエンコーディングを登録します。
//
// 同じ名前で2回登録するとパニックします。
func Register(name Name, f func() Encoding) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("already registered encoding: %s", name))
	}
	registry[name] = f
}

// Getは、登録済みのエンコーディングを生成します。
func Get(name Name) (Encoding, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown encoding %q: %w", name, errors.ErrInvalidConfig)
	}
	return f(), nil
}

// Namesは、登録済みのエンコーディング名を返却します。
func Names() []Name {
	registryMu.RLock()
	defer registryMu.RUnlock()
	res := make([]Name, 0, len(registry))
	for k := range registry {
		res = append(res, k)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// Sizeは、バイト数を表します。
type Size int64

const (
	Byte     Size = 1
	KiloByte      = 1024 * Byte
	MegaByte      = 1024 * KiloByte
)

func (s Size) String() string {
	switch {
	case s >= MegaByte && s%MegaByte == 0:
		return fmt.Sprintf("%dMiB", s/MegaByte)
	case s >= KiloByte && s%KiloByte == 0:
		return fmt.Sprintf("%dKiB", s/KiloByte)
	}
	return fmt.Sprintf("%dB", int64(s))
}

// TransportConfigは、エンコーディングされたメッセージを伝送するトランスポートについての設定です。
type TransportConfig struct {
	Transport      transport.Transport
	Encoding       Encoding
	MaxMessageSize Size
}

// NewTransportは、エンコーディングされたメッセージを伝送するトランスポートを生成します。
func NewTransport(c *TransportConfig) *Transport {
	return &Transport{
		t:              c.Transport,
		e:              c.Encoding,
		maxMessageSize: c.MaxMessageSize,
	}
}

// Transportは、エンコーディングされたメッセージを伝送するトランスポートです。
//
// エンコーディングされたメッセージをトランスポートから読み込んだり、トランスポートへ書き込んだりして使用します。
type Transport struct {
	t              transport.Transport
	e              Encoding
	maxMessageSize Size

	rx, tx counter
}

// Readは、トランスポートからメッセージを読み込みます。
//
// フレームのデコードに失敗した場合は *errors.DecodeError を返却します。この場合トランスポートは引き続き使用できます。
func (c *Transport) Read(ctx context.Context) (message.Envelope, error) {
	f, err := c.t.Read(ctx)
	if err != nil {
		return message.Envelope{}, err
	}
	if err := validateMessageSize(c.maxMessageSize, Size(len(f.Data))); err != nil {
		return message.Envelope{}, &errors.DecodeError{Frame: f.Data, Err: err}
	}
	m, err := c.e.Decode(f)
	if err != nil {
		return message.Envelope{}, &errors.DecodeError{Frame: f.Data, Err: err}
	}
	c.rx.add(m.Type, len(f.Data))
	return m, nil
}

// Encodeは、メッセージをエンコードし、サイズを検証します。
func (c *Transport) Encode(m message.Envelope) (transport.Frame, error) {
	f, err := c.e.Encode(m)
	if err != nil {
		return transport.Frame{}, err
	}
	if err := validateMessageSize(c.maxMessageSize, Size(len(f.Data))); err != nil {
		return transport.Frame{}, err
	}
	return f, nil
}

// Writeは、トランスポートへメッセージを書き出します。
func (c *Transport) Write(ctx context.Context, m message.Envelope) error {
	f, err := c.Encode(m)
	if err != nil {
		return err
	}
	return c.WriteFrame(ctx, m.Type, f)
}

// WriteFrameは、エンコード済みのフレームをトランスポートへ書き出します。
func (c *Transport) WriteFrame(ctx context.Context, tp message.Type, f transport.Frame) error {
	if err := c.t.Write(ctx, f); err != nil {
		return err
	}
	c.tx.add(tp, len(f.Data))
	return nil
}

// RxCountは、トランスポートから読み込んだメッセージの種別ごとの集計を返却します。
func (c *Transport) RxCount() Count {
	return c.rx.snapshot()
}

// TxCountは、トランスポートへ書き込んだメッセージの種別ごとの集計を返却します。
func (c *Transport) TxCount() Count {
	return c.tx.snapshot()
}

// RxMessageCounterValueは、トランスポートから読み込んだメッセージの数を返却します。
func (c *Transport) RxMessageCounterValue() uint64 {
	return c.rx.total.Load()
}

// TxMessageCounterValueは、トランスポートへ書き込んだメッセージの数を返却します。
func (c *Transport) TxMessageCounterValue() uint64 {
	return c.tx.total.Load()
}

// CloseWithStatusは、指定したステータスでトランスポートを閉じます。
func (c *Transport) CloseWithStatus(code transport.CloseCode, reason string) error {
	return c.t.CloseWithStatus(code, reason)
}

// Closeは、トランスポートを閉じます。
func (c *Transport) Close() error {
	return c.t.Close()
}

func validateMessageSize(max Size, target Size) error {
	if max == 0 {
		return nil
	}
	if target > max {
		return errors.Errorf("max_size is %s but got %s: %w", max.String(), target.String(), errors.ErrMessageTooLarge)
	}
	return nil
}
