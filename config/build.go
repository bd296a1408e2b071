package config

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/AlekSi/pointer"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/aptpod/wsconn-go/encoding"
	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/log"
	"github.com/aptpod/wsconn-go/pool"
	"github.com/aptpod/wsconn-go/storage"
	"github.com/aptpod/wsconn-go/storage/natskv"
	"github.com/aptpod/wsconn-go/storage/postgres"
	"github.com/aptpod/wsconn-go/storage/redis"
	"github.com/aptpod/wsconn-go/storage/sqlite"
	"github.com/aptpod/wsconn-go/transport"
	"github.com/aptpod/wsconn-go/transport/nic"
	"github.com/aptpod/wsconn-go/transport/websocket"
	"github.com/aptpod/wsconn-go/transport/websocket/gorilla"
	"github.com/aptpod/wsconn-go/transport/websocket/nhooyr"
	"github.com/aptpod/wsconn-go/wsconn"
)

// NewLoggerは、ロガーを生成します。
func (l Log) NewLogger() (log.Logger, error) {
	var level slog.Level
	if l.Level != "" {
		if err := level.UnmarshalText([]byte(l.Level)); err != nil {
			return nil, errors.Errorf("log level %q: %w", l.Level, errors.ErrInvalidConfig)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.Format) {
	case "", "nop":
		return log.NewNop(), nil
	case "std":
		return log.NewStd(), nil
	case "text":
		return log.NewSlog(slog.New(slog.NewTextHandler(os.Stderr, opts))), nil
	case "json":
		return log.NewSlog(slog.New(slog.NewJSONHandler(os.Stderr, opts))), nil
	}
	return nil, errors.Errorf("unknown log format %q: %w", l.Format, errors.ErrInvalidConfig)
}

// NewDialerは、WebSocketのDialerを生成します。
func (t Transport) NewDialer(logger log.Logger) (*websocket.Dialer, error) {
	c := websocket.DialerConfig{
		DialTimeout: pointer.GetDuration(t.DialTimeout),
		ReadLimit:   pointer.GetInt64(t.ReadLimit),
		Compression: pointer.GetBool(t.Compression),
		Logger:      logger,
	}
	switch t.Implementation {
	case "", gorilla.Name:
		c.DialFuncName = gorilla.Name
	case nhooyr.Name:
		c.DialFuncName = nhooyr.Name
	default:
		return nil, errors.Errorf("unknown websocket implementation %q: %w", t.Implementation, errors.ErrInvalidConfig)
	}

	switch {
	case t.Token != nil && t.OAuth2 != nil:
		return nil, errors.Errorf("token and oauth2 are exclusive: %w", errors.ErrInvalidConfig)
	case t.Token != nil:
		c.TokenSource = websocket.NewStaticTokenSource(pointer.GetString(t.Token))
	case t.OAuth2 != nil:
		if t.OAuth2.TokenURL == "" || t.OAuth2.ClientID == "" {
			return nil, errors.Errorf("oauth2 token_url and client_id are required: %w", errors.ErrInvalidConfig)
		}
		cc := clientcredentials.Config{
			ClientID:     t.OAuth2.ClientID,
			ClientSecret: t.OAuth2.ClientSecret,
			TokenURL:     t.OAuth2.TokenURL,
			Scopes:       t.OAuth2.Scopes,
		}
		c.TokenSource = websocket.NewOAuth2TokenSource(cc.TokenSource(context.Background()))
	}
	if len(t.Interfaces) > 0 {
		d, err := nic.New(t.Interfaces...)
		if err != nil {
			return nil, err
		}
		c.DialContext = d.DialContext
	}
	return websocket.NewDialer(c), nil
}

// OpenStoreは、ストアを開きます。
func (s Storage) OpenStore(ctx context.Context) (storage.Store, error) {
	switch s.Driver {
	case "", "memory":
		return storage.NewMemory(), nil
	case "redis":
		if s.Redis == nil {
			return nil, errors.Errorf("storage.redis is required: %w", errors.ErrInvalidConfig)
		}
		return redis.New(redis.Config{
			Addr:      s.Redis.Addr,
			Username:  s.Redis.Username,
			Password:  s.Redis.Password,
			DB:        s.Redis.DB,
			KeyPrefix: s.Redis.KeyPrefix,
			TTL:       pointer.GetDuration(s.Redis.TTL),
		})
	case "sqlite":
		if s.SQLite == nil {
			return nil, errors.Errorf("storage.sqlite is required: %w", errors.ErrInvalidConfig)
		}
		return sqlite.New(ctx, sqlite.Config{DSN: s.SQLite.DSN, Table: s.SQLite.Table})
	case "postgres":
		if s.Postgres == nil {
			return nil, errors.Errorf("storage.postgres is required: %w", errors.ErrInvalidConfig)
		}
		return postgres.New(ctx, postgres.Config{
			ConnString: s.Postgres.ConnString,
			MinConns:   s.Postgres.MinConns,
			MaxConns:   s.Postgres.MaxConns,
			Table:      s.Postgres.Table,
		})
	case "nats":
		if s.NATS == nil {
			return nil, errors.Errorf("storage.nats is required: %w", errors.ErrInvalidConfig)
		}
		return natskv.New(ctx, natskv.Config{
			URL:      s.NATS.URL,
			Bucket:   s.NATS.Bucket,
			TTL:      pointer.GetDuration(s.NATS.TTL),
			Replicas: s.NATS.Replicas,
		})
	}
	return nil, errors.Errorf("unknown storage driver %q: %w", s.Driver, errors.ErrInvalidConfig)
}

// ConnConfigは、デフォルト値に設定ファイルの値を適用したwsconn.ConnConfigを返却します。
//
// Dialer、Store、Loggerは設定しません。
func (c Connection) ConnConfig() *wsconn.ConnConfig {
	res := wsconn.DefaultConnConfig()
	res.URL = c.URL
	res.ID = pointer.GetString(c.ID)
	res.Protocols = c.Protocols
	if len(c.Headers) > 0 {
		res.Header = http.Header(c.Headers).Clone()
	}
	if c.ConnectionTimeout != nil {
		res.ConnectionTimeout = pointer.GetDuration(c.ConnectionTimeout)
	}
	if c.CloseTimeout != nil {
		res.CloseTimeout = pointer.GetDuration(c.CloseTimeout)
	}
	if c.MaxMessageSize != nil {
		res.MaxMessageSize = encoding.Size(pointer.GetInt64(c.MaxMessageSize))
	}
	if c.Encoding != nil {
		res.Encoding = encoding.Name(pointer.GetString(c.Encoding))
	}
	if r := c.Reconnect; r != nil {
		if r.Enabled != nil {
			res.Reconnect.Enabled = pointer.GetBool(r.Enabled)
		}
		if r.Strategy != nil {
			res.Reconnect.Strategy = wsconn.ReconnectStrategy(pointer.GetString(r.Strategy))
		}
		if r.InitialDelay != nil {
			res.Reconnect.InitialDelay = pointer.GetDuration(r.InitialDelay)
		}
		if r.MaxDelay != nil {
			res.Reconnect.MaxDelay = pointer.GetDuration(r.MaxDelay)
		}
		if r.MaxAttempts != nil {
			res.Reconnect.MaxAttempts = pointer.GetInt(r.MaxAttempts)
		}
		if r.BackoffMultiplier != nil {
			res.Reconnect.BackoffMultiplier = pointer.GetFloat64(r.BackoffMultiplier)
		}
		if r.Jitter != nil {
			res.Reconnect.Jitter = pointer.GetDuration(r.Jitter)
		}
	}
	if q := c.MessageQueue; q != nil {
		if q.Enabled != nil {
			res.MessageQueue.Enabled = pointer.GetBool(q.Enabled)
		}
		if q.MaxSize != nil {
			res.MessageQueue.MaxSize = pointer.GetInt(q.MaxSize)
		}
		if q.Persistent != nil {
			res.MessageQueue.Persistent = pointer.GetBool(q.Persistent)
		}
		if q.StorageKey != nil {
			res.MessageQueue.StorageKey = pointer.GetString(q.StorageKey)
		}
		if q.MessageExpiry != nil {
			res.MessageQueue.MessageExpiry = pointer.GetDuration(q.MessageExpiry)
		}
		if q.Deduplication != nil {
			res.MessageQueue.Deduplication = pointer.GetBool(q.Deduplication)
		}
		if q.SweepInterval != nil {
			res.MessageQueue.SweepInterval = pointer.GetDuration(q.SweepInterval)
		}
	}
	if h := c.Heartbeat; h != nil {
		if h.Enabled != nil {
			res.Heartbeat.Enabled = pointer.GetBool(h.Enabled)
		}
		if h.Interval != nil {
			res.Heartbeat.Interval = pointer.GetDuration(h.Interval)
		}
		if h.Timeout != nil {
			res.Heartbeat.Timeout = pointer.GetDuration(h.Timeout)
		}
		if h.Message != nil {
			res.Heartbeat.Message = pointer.GetString(h.Message)
		}
		if h.MaxFailures != nil {
			res.Heartbeat.MaxFailures = pointer.GetInt(h.MaxFailures)
		}
		if h.AnyTrafficIsAlive != nil {
			res.Heartbeat.AnyTrafficIsAlive = pointer.GetBool(h.AnyTrafficIsAlive)
		}
	}
	return res
}

// FromConnConfigは、ConnConfigを設定ファイルの形式へ変換します。
//
// Dialer、Store、Logger、イベントハンドラは変換されません。
func FromConnConfig(c *wsconn.ConnConfig) Connection {
	res := Connection{
		URL:               c.URL,
		Protocols:         c.Protocols,
		Headers:           c.Header,
		ConnectionTimeout: pointer.ToDuration(c.ConnectionTimeout),
		CloseTimeout:      pointer.ToDuration(c.CloseTimeout),
		MaxMessageSize:    pointer.ToInt64(int64(c.MaxMessageSize)),
		Encoding:          pointer.ToString(string(c.Encoding)),
		Reconnect: &Reconnect{
			Enabled:           pointer.ToBool(c.Reconnect.Enabled),
			Strategy:          pointer.ToString(string(c.Reconnect.Strategy)),
			InitialDelay:      pointer.ToDuration(c.Reconnect.InitialDelay),
			MaxDelay:          pointer.ToDuration(c.Reconnect.MaxDelay),
			MaxAttempts:       pointer.ToInt(c.Reconnect.MaxAttempts),
			BackoffMultiplier: pointer.ToFloat64(c.Reconnect.BackoffMultiplier),
			Jitter:            pointer.ToDuration(c.Reconnect.Jitter),
		},
		MessageQueue: &MessageQueue{
			Enabled:       pointer.ToBool(c.MessageQueue.Enabled),
			MaxSize:       pointer.ToInt(c.MessageQueue.MaxSize),
			Persistent:    pointer.ToBool(c.MessageQueue.Persistent),
			MessageExpiry: pointer.ToDuration(c.MessageQueue.MessageExpiry),
			Deduplication: pointer.ToBool(c.MessageQueue.Deduplication),
			SweepInterval: pointer.ToDuration(c.MessageQueue.SweepInterval),
		},
		Heartbeat: &Heartbeat{
			Enabled:           pointer.ToBool(c.Heartbeat.Enabled),
			Interval:          pointer.ToDuration(c.Heartbeat.Interval),
			Timeout:           pointer.ToDuration(c.Heartbeat.Timeout),
			Message:           pointer.ToString(c.Heartbeat.Message),
			MaxFailures:       pointer.ToInt(c.Heartbeat.MaxFailures),
			AnyTrafficIsAlive: pointer.ToBool(c.Heartbeat.AnyTrafficIsAlive),
		},
	}
	if c.ID != "" {
		res.ID = pointer.ToString(c.ID)
	}
	if c.MessageQueue.StorageKey != "" {
		res.MessageQueue.StorageKey = pointer.ToString(c.MessageQueue.StorageKey)
	}
	return res
}

// Configは、デフォルト値に設定ファイルの値を適用したpool.Configを返却します。
func (p PoolConfig) Config() *pool.Config {
	res := pool.DefaultConfig()
	if p.Strategy != nil {
		res.Strategy = pool.Strategy(pointer.GetString(p.Strategy))
	}
	if p.MaxConnections != nil {
		res.MaxConnections = pointer.GetInt(p.MaxConnections)
	}
	if p.BroadcastConcurrency != nil {
		res.BroadcastConcurrency = pointer.GetInt(p.BroadcastConcurrency)
	}
	if h := p.HealthCheck; h != nil {
		if h.Enabled != nil {
			res.HealthCheck.Enabled = pointer.GetBool(h.Enabled)
		}
		if h.Interval != nil {
			res.HealthCheck.Interval = pointer.GetDuration(h.Interval)
		}
		if h.Timeout != nil {
			res.HealthCheck.Timeout = pointer.GetDuration(h.Timeout)
		}
		if h.FailureThreshold != nil {
			res.HealthCheck.FailureThreshold = pointer.GetInt(h.FailureThreshold)
		}
	}
	return res
}

// Runtimeは、設定ファイルから生成した実行時のオブジェクトです。
type Runtime struct {
	Logger log.Logger
	Dialer transport.Dialer

	// Storeは、storageが設定されている場合のみ値を持ちます。
	Store storage.Store

	file *File
}

// Buildは、ロガー、Dialer、ストアを生成します。
//
// 生成したストアは Runtime.Close で閉じます。
func (f *File) Build(ctx context.Context) (*Runtime, error) {
	logger, err := f.Log.NewLogger()
	if err != nil {
		return nil, err
	}
	dialer, err := f.Transport.NewDialer(logger)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Logger: logger, Dialer: dialer, file: f}
	if f.Storage != nil {
		if rt.Store, err = f.Storage.OpenStore(ctx); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// ConnConfigは、コネクションの設定を返却します。
func (r *Runtime) ConnConfig() *wsconn.ConnConfig {
	c := r.file.Connection.ConnConfig()
	r.wire(c)
	return c
}

func (r *Runtime) wire(c *wsconn.ConnConfig) {
	c.Dialer = r.Dialer
	c.Logger = r.Logger
	if r.Store == nil {
		return
	}
	c.Store = r.Store
	if mq := r.file.Connection.MessageQueue; mq == nil || mq.Persistent == nil {
		c.MessageQueue.Persistent = true
	}
}

// NewConnは、設定ファイルのコネクション設定でConnを生成します。
func (r *Runtime) NewConn() (*wsconn.Conn, error) {
	return wsconn.NewWithConfig(r.ConnConfig())
}

// NewPoolは、設定ファイルのプール設定でPoolを生成し、メンバーを追加します。
//
// メンバーの追加に失敗した場合、生成したPoolは閉じられます。
func (r *Runtime) NewPool(ctx context.Context) (*pool.Pool, error) {
	pc := r.file.Pool
	if pc == nil {
		return nil, errors.Errorf("pool is not configured: %w", errors.ErrInvalidConfig)
	}
	conf := pc.Config()
	conf.Logger = r.Logger
	p, err := pool.NewWithConfig(conf)
	if err != nil {
		return nil, err
	}
	for _, m := range pc.Members {
		if err := r.addMember(ctx, p, m); err != nil {
			if cErr := p.Close(ctx); cErr != nil {
				r.Logger.Warnf(ctx, "Failed to close pool: %v", cErr)
			}
			return nil, err
		}
	}
	return p, nil
}

func (r *Runtime) addMember(ctx context.Context, p *pool.Pool, m Member) error {
	c := r.ConnConfig()
	if m.URL != "" {
		c.URL = m.URL
	}
	// Members share the store, so each needs its own storage key.
	c.ID = m.Name
	if m.ID != nil {
		c.ID = pointer.GetString(m.ID)
	}
	c.MessageQueue.StorageKey = ""
	conn, err := wsconn.NewWithConfig(c)
	if err != nil {
		return errors.Errorf("member %s: %w", m.Name, err)
	}
	return p.AddConnection(ctx, pool.MemberConfig{
		Name:     m.Name,
		Priority: m.Priority,
		Weight:   m.Weight,
		Conn:     conn,
	})
}

// Closeは、Buildで開いたストアを閉じます。
func (r *Runtime) Close() error {
	if r.Store == nil {
		return nil
	}
	return r.Store.Close()
}
