package websocket

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/log"
	"github.com/aptpod/wsconn-go/transport"
)

// DialConfigは、DialFuncへ渡す設定です。
type DialConfig struct {
	// URLは、接続先URLです。スキームはws又はwssです。
	URL string
	// Headerは、ハンドシェイク時に送信するヘッダーです。認証ヘッダーも含まれます。
	Header http.Header
	// Subprotocolsは、ネゴシエーションするサブプロトコルです。
	Subprotocols []string
	// TLSConfigは、TLS設定です。
	TLSConfig *tls.Config

	// DialContextはWebSocketトランスポートの内部で使用するDialContextを設定します。
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
	// DialTLSContextはWebSocketトランスポートの内部で使用するDialTLSContextを設定します。
	DialTLSContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// Proxyは、HTTPプロキシを設定します。
	//
	// http.Transport.Proxyを参照してください。
	Proxy func(*http.Request) (*url.URL, error)

	// DialTimeoutは、WebSocket接続のタイムアウトです。
	// 0に設定された場合、タイムアウトは設定されません。
	DialTimeout time.Duration

	// ReadLimitは、1フレームあたりの最大読み込みサイズです。
	ReadLimit int64

	// Compressionは、permessage-deflate拡張をネゴシエーションするかどうかです。
	Compression bool
}

// HandshakeErrorは、サーバーがWebSocketのハンドシェイクを拒否した場合のエラーです。
type HandshakeError struct {
	// StatusCodeは、ハンドシェイクのレスポンスのHTTPステータスコードです。
	StatusCode int
	// Bodyは、レスポンスボディの先頭部分です。
	Body string
	Err  error
}

func (e *HandshakeError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("handshake rejected with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("handshake rejected with status %d (%s): %v", e.StatusCode, strings.TrimSpace(e.Body), e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// DialFunc はConnを返却する関数です。
//
// 実装したDialFuncは、RegisterDialFuncを使用して登録します。
type DialFunc func(ctx context.Context, c DialConfig) (Conn, error)

var (
	dialFuncsMu sync.RWMutex
	dialFuncs   = map[string]DialFunc{}
)

// DefaultDialFuncNameは、DialerConfig.DialFuncNameが未指定の場合に優先して使用するDialFuncの名前です。
const DefaultDialFuncName = "gorilla"

// RegisterDialFuncは、DialFuncを名前付きで登録します。
//
// 同じ名前で2回登録するとパニックします。
func RegisterDialFunc(name string, f DialFunc) {
	dialFuncsMu.Lock()
	defer dialFuncsMu.Unlock()
	if _, ok := dialFuncs[name]; ok {
		panic("already registered dialFunc: " + name)
	}
	dialFuncs[name] = f
}

// DialFuncNamesは、登録済みのDialFuncの名前を返却します。
func DialFuncNames() []string {
	dialFuncsMu.RLock()
	defer dialFuncsMu.RUnlock()
	res := make([]string, 0, len(dialFuncs))
	for name := range dialFuncs {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

func lookupDialFunc(name string) (DialFunc, error) {
	dialFuncsMu.RLock()
	defer dialFuncsMu.RUnlock()
	if name != "" {
		f, ok := dialFuncs[name]
		if !ok {
			return nil, errors.Errorf("dialFunc %q is not registered: %w", name, errors.ErrInvalidConfig)
		}
		return f, nil
	}
	if f, ok := dialFuncs[DefaultDialFuncName]; ok {
		return f, nil
	}
	if len(dialFuncs) == 1 {
		for _, f := range dialFuncs {
			return f, nil
		}
	}
	return nil, errors.Errorf("no dialFunc is registered, import a websocket implementation package: %w", errors.ErrInvalidConfig)
}

var defaultDialerConfig = DialerConfig{
	DialTimeout: 10 * time.Second,
	ReadLimit:   DefaultReadLimit,
}

// DialerConfigはDialerの設定です。
type DialerConfig struct {
	// DialFuncNameは、使用するDialFuncの登録名です。
	// 空の場合は DefaultDialFuncName 、それも無ければ唯一登録されているDialFuncを使用します。
	DialFuncName string

	// DialFuncは、使用するDialFuncです。設定された場合はDialFuncNameより優先されます。
	DialFunc DialFunc

	// TokenSourceは、接続時に認証ヘッダーへ設定するトークンを取得します。
	// Dialerは取得されたトークンを認証ヘッダーとして利用します。
	TokenSource TokenSource

	// Headerは、ハンドシェイク時に常に送信するヘッダーです。
	Header http.Header

	// TLSConfigは、TLS設定です。
	TLSConfig *tls.Config

	// DialContextはWebSocketトランスポートの内部で使用するDialContextを設定します。
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// DialTLSContextはWebSocketトランスポートの内部で使用するDialTLSContextを設定します。
	DialTLSContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// Proxyは、HTTPプロキシを設定します。
	//
	// http.Transport.Proxyを参照してください。
	Proxy func(*http.Request) (*url.URL, error)

	// DialTimeoutは、WebSocket接続のタイムアウトです。
	// 0に設定された場合は、デフォルト値(10秒)が使用されます。
	DialTimeout time.Duration

	// ReadLimitは、1フレームあたりの最大読み込みサイズです。
	// 0に設定された場合は、 DefaultReadLimit が使用されます。
	ReadLimit int64

	// Compressionは、permessage-deflate拡張をネゴシエーションするかどうかです。
	Compression bool

	// Loggerは、ロガーです。
	Logger log.Logger
}

// Dialerは、トランスポート接続を開始します。
type Dialer struct {
	DialerConfig
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDefaultDialerは、デフォルト設定のDialerを返却します。
func NewDefaultDialer() *Dialer {
	return NewDialer(defaultDialerConfig)
}

// NewDialerは、Dialerを返却します。
func NewDialer(c DialerConfig) *Dialer {
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialerConfig.DialTimeout
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = defaultDialerConfig.ReadLimit
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	return &Dialer{DialerConfig: c}
}

// Dialは、デフォルト設定を使ってトランスポート接続を開始します。
func Dial(ctx context.Context, c transport.DialConfig) (transport.Transport, error) {
	return NewDefaultDialer().Dial(ctx, c)
}

// Dialは、トランスポート接続を開始します。
func (d *Dialer) Dial(ctx context.Context, cc transport.DialConfig) (transport.Transport, error) {
	logger := d.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	f := d.DialFunc
	if f == nil {
		var err error
		if f, err = lookupDialFunc(d.DialFuncName); err != nil {
			return nil, err
		}
	}

	wsURL, err := normalizeURL(cc.URL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	for k, vs := range d.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	for k, vs := range cc.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	if d.TokenSource != nil {
		tk, err := d.TokenSource.Token()
		if err != nil {
			return nil, &errors.TransportError{Op: "token", Err: err}
		}
		if tk != nil {
			tk.setTo(header)
		}
	}

	logger.Debugf(ctx, "Dial: %s", wsURL)
	conn, err := f(ctx, DialConfig{
		URL:            wsURL,
		Header:         header,
		Subprotocols:   cc.Protocols,
		TLSConfig:      d.TLSConfig,
		DialContext:    d.DialContext,
		DialTLSContext: d.DialTLSContext,
		Proxy:          d.Proxy,
		DialTimeout:    d.DialTimeout,
		ReadLimit:      d.ReadLimit,
		Compression:    d.Compression,
	})
	if err != nil {
		return nil, &errors.TransportError{Op: "dial", Err: err}
	}
	return New(Config{Conn: conn}), nil
}

func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Errorf("invalid url %q: %v: %w", raw, err, errors.ErrInvalidConfig)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported url scheme %q: %w", u.Scheme, errors.ErrInvalidConfig)
	}
	if u.Host == "" {
		return "", errors.Errorf("url %q has no host: %w", raw, errors.ErrInvalidConfig)
	}
	return u.String(), nil
}
