package wsconn

import (
	"fmt"
	"net/url"
	"time"

	"github.com/aptpod/wsconn-go/encoding"
	_ "github.com/aptpod/wsconn-go/encoding/json"
	_ "github.com/aptpod/wsconn-go/encoding/protobuf"
	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/internal/retry"
	"github.com/aptpod/wsconn-go/log"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/storage"
	"github.com/aptpod/wsconn-go/transport"
	"github.com/aptpod/wsconn-go/transport/websocket"
	_ "github.com/aptpod/wsconn-go/transport/websocket/gorilla"
)

// ReconnectStrategyは、再接続間隔の増やし方です。
type ReconnectStrategy = retry.Strategy

const (
	// ReconnectStrategyFixedは、常にInitialDelayだけ待機します。
	ReconnectStrategyFixed = retry.StrategyFixed
	// ReconnectStrategyLinearは、InitialDelay * 試行回数だけ待機します。
	ReconnectStrategyLinear = retry.StrategyLinear
	// ReconnectStrategyExponentialは、InitialDelay * BackoffMultiplier^(試行回数-1)だけ待機します。
	ReconnectStrategyExponential = retry.StrategyExponential
)

const (
	// DefaultMaxMessageSizeは、送受信するメッセージの最大サイズのデフォルト値です。
	DefaultMaxMessageSize = encoding.MegaByte

	defaultConnectionTimeout = 10 * time.Second
	defaultCloseTimeout      = 5 * time.Second
	defaultSweepInterval     = time.Minute
	defaultStorageKeyPrefix  = "wsconn:queue:"
	latencySamples           = 100
)

var defaultConnConfig = ConnConfig{
	ID:                "",
	URL:               "",
	ConnectionTimeout: defaultConnectionTimeout,
	CloseTimeout:      defaultCloseTimeout,
	MaxMessageSize:    DefaultMaxMessageSize,
	Encoding:          encoding.NameJSON,
	Reconnect: ReconnectConfig{
		Enabled:           true,
		Strategy:          ReconnectStrategyExponential,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		MaxAttempts:       5,
		BackoffMultiplier: 2,
		Jitter:            time.Second,
	},
	MessageQueue: QueueConfig{
		Enabled:       true,
		MaxSize:       1000,
		Persistent:    false,
		StorageKey:    "",
		MessageExpiry: 5 * time.Minute,
		Deduplication: true,
		SweepInterval: defaultSweepInterval,
	},
	Heartbeat: HeartbeatConfig{
		Enabled:           true,
		Interval:          30 * time.Second,
		Timeout:           5 * time.Second,
		Message:           "ping",
		MaxFailures:       1,
		AnyTrafficIsAlive: false,
	},
	Logger:                      log.NewNop(),
	ConnectedEventHandler:       nopConnectedEventHandler{},
	DisconnectedEventHandler:    nopDisconnectedEventHandler{},
	ReconnectingEventHandler:    nopReconnectingEventHandler{},
	MessageReceivedEventHandler: nopMessageReceivedEventHandler{},
	ErrorEventHandler:           nopErrorEventHandler{},

	// 状態を持つものはnilをデフォルトとする。
	Dialer: nil,
	Store:  nil,
}

// ConnConfigは、コネクションの設定です。
type ConnConfig struct {
	// コネクションID
	//
	// 空の場合は生成時に払い出します。ログの追跡IDやキューの保存キーに使用します。
	ID string

	// 接続先URL
	//
	// ws, wss, http, httpsのいずれかのスキームで指定します。
	URL string

	// ハンドシェイク時にネゴシエーションするサブプロトコル
	Protocols []string

	// ハンドシェイク時に追加するヘッダー
	Header map[string][]string

	// 接続試行のタイムアウト
	ConnectionTimeout time.Duration

	// 明示的な切断でトランスポートのクローズを待つ時間
	CloseTimeout time.Duration

	// 送受信するメッセージの最大サイズ。0の場合は無制限です。
	MaxMessageSize encoding.Size

	// メッセージのエンコーディング
	Encoding encoding.Name

	// 再接続の設定
	Reconnect ReconnectConfig

	// 未送信メッセージを保持するキューの設定
	MessageQueue QueueConfig

	// ハートビートの設定
	Heartbeat HeartbeatConfig

	// トランスポートを確立するDialer
	//
	// nilの場合はWebSocketのデフォルトDialerを使用します。
	Dialer transport.Dialer

	// キューを永続化するストア
	//
	// MessageQueue.Persistentがtrueの場合のみ使用します。nilの場合はメモリ上に保存します。
	Store storage.Store

	// ロガー
	Logger log.Logger

	// 接続が確立された時のイベントハンドラ
	ConnectedEventHandler ConnectedEventHandler

	// コネクションが終了した時のイベントハンドラ
	DisconnectedEventHandler DisconnectedEventHandler

	// 再接続を予約した時のイベントハンドラ
	ReconnectingEventHandler ReconnectingEventHandler

	// メッセージを受信した時のイベントハンドラ
	MessageReceivedEventHandler MessageReceivedEventHandler

	// エラーが発生した時のイベントハンドラ
	ErrorEventHandler ErrorEventHandler
}

// ReconnectConfigは、再接続の設定です。
type ReconnectConfig struct {
	// 自動再接続を行うかどうか
	Enabled bool
	// 再接続間隔の増やし方
	Strategy ReconnectStrategy
	// 初回の再接続までの待機時間
	InitialDelay time.Duration
	// 待機時間の上限。ジッターはこの上限を適用した後に加算します。
	MaxDelay time.Duration
	// 最大試行回数。0の場合は無制限です。
	MaxAttempts int
	// ReconnectStrategyExponentialの倍率
	BackoffMultiplier float64
	// 待機時間に加算する乱数の上限
	Jitter time.Duration
}

func (c ReconnectConfig) policy() retry.Policy {
	return retry.Policy{
		Strategy:     c.Strategy,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		MaxAttempts:  c.MaxAttempts,
		Multiplier:   c.BackoffMultiplier,
		Jitter:       c.Jitter,
	}
}

// QueueConfigは、未送信メッセージを保持するキューの設定です。
type QueueConfig struct {
	// 未接続時のメッセージをキューへ保持するかどうか。falseの場合は破棄します。
	Enabled bool
	// 保持するメッセージの最大数。0の場合は全て破棄します。
	MaxSize int
	// キューの内容をストアへ保存するかどうか
	Persistent bool
	// ストアへ保存する際のキー。空の場合はコネクションIDから生成します。
	StorageKey string
	// メッセージの有効期間。0の場合は期限なしです。
	MessageExpiry time.Duration
	// 同じIDのメッセージを拒否するかどうか
	Deduplication bool
	// 有効期限切れのメッセージを取り除く間隔。0の場合は送信時にのみ取り除きます。
	SweepInterval time.Duration
}

// HeartbeatConfigは、ハートビートの設定です。
type HeartbeatConfig struct {
	// ハートビートを送信するかどうか
	Enabled bool
	// 送信間隔
	Interval time.Duration
	// 応答を待つ時間
	Timeout time.Duration
	// 送信するペイロード
	Message string
	// 連続で何回タイムアウトしたらトランスポートを閉じるか
	MaxFailures int
	// ハートビート以外の受信も応答として扱うかどうか
	AnyTrafficIsAlive bool
}

// DefaultConnConfigは、デフォルトのConnConfigを取得します。
func DefaultConnConfig() *ConnConfig {
	c := defaultConnConfig
	return &c
}

// validateは、設定値を検証しゼロ値をデフォルト値で補完します。
func (c *ConnConfig) validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required: %w", errors.ErrInvalidConfig)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %v: %w", c.URL, err, errors.ErrInvalidConfig)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q must have scheme and host: %w", c.URL, errors.ErrInvalidConfig)
	}
	if c.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout must not be negative: %w", errors.ErrInvalidConfig)
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = defaultConnectionTimeout
	}
	if c.CloseTimeout < 0 {
		return fmt.Errorf("close timeout must not be negative: %w", errors.ErrInvalidConfig)
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = defaultCloseTimeout
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("max message size must not be negative: %w", errors.ErrInvalidConfig)
	}
	if c.Encoding == "" {
		c.Encoding = encoding.NameJSON
	}
	if _, err := encoding.Get(c.Encoding); err != nil {
		return err
	}

	if c.Reconnect.Strategy == "" {
		c.Reconnect.Strategy = ReconnectStrategyExponential
	}
	if c.Reconnect.Strategy == ReconnectStrategyExponential && c.Reconnect.BackoffMultiplier == 0 {
		c.Reconnect.BackoffMultiplier = defaultConnConfig.Reconnect.BackoffMultiplier
	}
	if err := c.Reconnect.policy().Validate(); err != nil {
		return err
	}

	if c.MessageQueue.MaxSize < 0 {
		return fmt.Errorf("queue max size must not be negative: %w", errors.ErrInvalidConfig)
	}
	if c.MessageQueue.MessageExpiry < 0 || c.MessageQueue.SweepInterval < 0 {
		return fmt.Errorf("queue durations must not be negative: %w", errors.ErrInvalidConfig)
	}

	if c.Heartbeat.Interval < 0 || c.Heartbeat.Timeout < 0 {
		return fmt.Errorf("heartbeat durations must not be negative: %w", errors.ErrInvalidConfig)
	}
	if c.Heartbeat.Enabled {
		if c.Heartbeat.Interval == 0 {
			return fmt.Errorf("heartbeat interval must be positive: %w", errors.ErrInvalidConfig)
		}
		if c.Heartbeat.Timeout == 0 {
			c.Heartbeat.Timeout = defaultConnConfig.Heartbeat.Timeout
		}
	}
	if c.Heartbeat.MaxFailures <= 0 {
		c.Heartbeat.MaxFailures = 1
	}

	if c.ID == "" {
		c.ID = message.NewID()
	}
	if c.MessageQueue.StorageKey == "" {
		c.MessageQueue.StorageKey = defaultStorageKeyPrefix + c.ID
	}
	if c.Dialer == nil {
		c.Dialer = websocket.NewDefaultDialer()
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	if c.ConnectedEventHandler == nil {
		c.ConnectedEventHandler = nopConnectedEventHandler{}
	}
	if c.DisconnectedEventHandler == nil {
		c.DisconnectedEventHandler = nopDisconnectedEventHandler{}
	}
	if c.ReconnectingEventHandler == nil {
		c.ReconnectingEventHandler = nopReconnectingEventHandler{}
	}
	if c.MessageReceivedEventHandler == nil {
		c.MessageReceivedEventHandler = nopMessageReceivedEventHandler{}
	}
	if c.ErrorEventHandler == nil {
		c.ErrorEventHandler = nopErrorEventHandler{}
	}
	return nil
}

// ConnOptionは、Connのオプションです。
type ConnOption func(*ConnConfig)

// WithConnIDは、コネクションIDを設定します。
func WithConnID(id string) ConnOption {
	return func(c *ConnConfig) {
		c.ID = id
	}
}

// WithConnProtocolsは、サブプロトコルを設定します。
func WithConnProtocols(protocols ...string) ConnOption {
	return func(c *ConnConfig) {
		c.Protocols = protocols
	}
}

// WithConnHeaderは、ハンドシェイク時に追加するヘッダーを設定します。
func WithConnHeader(key string, values ...string) ConnOption {
	return func(c *ConnConfig) {
		if c.Header == nil {
			c.Header = map[string][]string{}
		}
		c.Header[key] = append(c.Header[key], values...)
	}
}

// WithConnConnectionTimeoutは、接続試行のタイムアウトを設定します。
func WithConnConnectionTimeout(timeout time.Duration) ConnOption {
	return func(c *ConnConfig) {
		c.ConnectionTimeout = timeout
	}
}

// WithConnCloseTimeoutは、明示的な切断でクローズを待つ時間を設定します。
func WithConnCloseTimeout(timeout time.Duration) ConnOption {
	return func(c *ConnConfig) {
		c.CloseTimeout = timeout
	}
}

// WithConnMaxMessageSizeは、メッセージの最大サイズを設定します。
func WithConnMaxMessageSize(size encoding.Size) ConnOption {
	return func(c *ConnConfig) {
		c.MaxMessageSize = size
	}
}

// WithConnEncodingは、エンコーディングを設定します。
func WithConnEncoding(name encoding.Name) ConnOption {
	return func(c *ConnConfig) {
		c.Encoding = name
	}
}

// WithConnReconnectは、再接続の設定をします。
func WithConnReconnect(rc ReconnectConfig) ConnOption {
	return func(c *ConnConfig) {
		c.Reconnect = rc
	}
}

// WithConnReconnectDisabledは、自動再接続を無効にします。
func WithConnReconnectDisabled() ConnOption {
	return func(c *ConnConfig) {
		c.Reconnect.Enabled = false
	}
}

// WithConnMessageQueueは、キューの設定をします。
func WithConnMessageQueue(qc QueueConfig) ConnOption {
	return func(c *ConnConfig) {
		c.MessageQueue = qc
	}
}

// WithConnHeartbeatは、ハートビートの設定をします。
func WithConnHeartbeat(hc HeartbeatConfig) ConnOption {
	return func(c *ConnConfig) {
		c.Heartbeat = hc
	}
}

// WithConnHeartbeatDisabledは、ハートビートを無効にします。
func WithConnHeartbeatDisabled() ConnOption {
	return func(c *ConnConfig) {
		c.Heartbeat.Enabled = false
	}
}

// WithConnDialerは、トランスポートを確立するDialerを設定します。
func WithConnDialer(d transport.Dialer) ConnOption {
	return func(c *ConnConfig) {
		c.Dialer = d
	}
}

// WithConnStoreは、キューを永続化するストアを設定し、永続化を有効にします。
func WithConnStore(s storage.Store) ConnOption {
	return func(c *ConnConfig) {
		c.Store = s
		c.MessageQueue.Persistent = true
	}
}

// WithConnLoggerは、ロガーを設定します。
func WithConnLogger(l log.Logger) ConnOption {
	return func(c *ConnConfig) {
		c.Logger = l
	}
}

// WithConnConnectedEventHandlerは、接続が確立された時のイベントハンドラを設定します。
func WithConnConnectedEventHandler(h ConnectedEventHandler) ConnOption {
	return func(c *ConnConfig) {
		c.ConnectedEventHandler = h
	}
}

// WithConnDisconnectedEventHandlerは、コネクションが終了した時のイベントハンドラを設定します。
func WithConnDisconnectedEventHandler(h DisconnectedEventHandler) ConnOption {
	return func(c *ConnConfig) {
		c.DisconnectedEventHandler = h
	}
}

// WithConnReconnectingEventHandlerは、再接続を予約した時のイベントハンドラを設定します。
func WithConnReconnectingEventHandler(h ReconnectingEventHandler) ConnOption {
	return func(c *ConnConfig) {
		c.ReconnectingEventHandler = h
	}
}

// WithConnMessageReceivedEventHandlerは、メッセージを受信した時のイベントハンドラを設定します。
func WithConnMessageReceivedEventHandler(h MessageReceivedEventHandler) ConnOption {
	return func(c *ConnConfig) {
		c.MessageReceivedEventHandler = h
	}
}

// WithConnErrorEventHandlerは、エラーが発生した時のイベントハンドラを設定します。
func WithConnErrorEventHandler(h ErrorEventHandler) ConnOption {
	return func(c *ConnConfig) {
		c.ErrorEventHandler = h
	}
}
