/*
Package natskv は、 NATS JetStream の Key-Value バケットを利用した storage.Store の実装です。
*/
package natskv

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/storage"
)

// keyValue captures the subset of nats.KeyValue the store relies on.
type keyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
}

// Configは、Storeの設定です。
type Config struct {
	// KeyValueは、使用するバケットです。nilの場合はConn又はURLからバケットを取得し、無ければ作成します。
	KeyValue nats.KeyValue
	// Connは、使用するコネクションです。nilの場合はURLへ接続し、Closeで切断します。
	Conn *nats.Conn
	// URLは、NATSサーバーのURLです。デフォルトは nats.DefaultURL です。
	URL string

	// Bucketは、バケット名です。デフォルトは "wsconn_queue" です。
	Bucket string
	// TTLは、バケット作成時に設定する値の有効期間です。0の場合は無期限です。
	TTL time.Duration
	// Replicasは、バケット作成時に設定するレプリカ数です。
	Replicas int
}

// Storeは、JetStream Key-Valueバケットへ一覧を保存するStoreです。
type Store struct {
	kv       keyValue
	conn     *nats.Conn
	ownsConn bool
}

var _ storage.Store = (*Store)(nil)

// Newは、Storeを返却します。
func New(_ context.Context, cfg Config) (*Store, error) {
	if cfg.KeyValue != nil {
		return &Store{kv: cfg.KeyValue}, nil
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "wsconn_queue"
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	conn := cfg.Conn
	owns := false
	if conn == nil {
		var err error
		conn, err = nats.Connect(cfg.URL, nats.Name("wsconn-queue-store"))
		if err != nil {
			return nil, errors.Errorf("connect nats %s: %w", cfg.URL, err)
		}
		owns = true
	}
	closeOwned := func() {
		if owns {
			conn.Close()
		}
	}

	js, err := conn.JetStream()
	if err != nil {
		closeOwned()
		return nil, errors.Errorf("jetstream context: %w", err)
	}
	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "wsconn message queue snapshots",
			TTL:         cfg.TTL,
			Replicas:    cfg.Replicas,
		})
	}
	if err != nil {
		closeOwned()
		return nil, errors.Errorf("key value bucket %s: %w", cfg.Bucket, err)
	}
	return &Store{kv: kv, conn: conn, ownsConn: owns}, nil
}

// sanitizeKey maps key onto the character set NATS KV accepts.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '=', r == '/', r == '.':
			return r
		}
		return '_'
	}, key)
}

func (s *Store) Save(_ context.Context, key string, envs []message.Envelope) error {
	bs, err := storage.Marshal(envs)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(sanitizeKey(key), bs); err != nil {
		return errors.Errorf("nats kv put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Load(_ context.Context, key string) ([]message.Envelope, error) {
	entry, err := s.kv.Get(sanitizeKey(key))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, errors.Errorf("nats kv get %s: %w", key, err)
	}
	return storage.Unmarshal(entry.Value())
}

func (s *Store) Clear(_ context.Context, key string) error {
	if err := s.kv.Delete(sanitizeKey(key)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return errors.Errorf("nats kv delete %s: %w", key, err)
	}
	return nil
}

// Closeは、Storeが接続したコネクションを切断します。Config.Connで渡したコネクションは切断しません。
func (s *Store) Close() error {
	if s.ownsConn && s.conn != nil {
		s.conn.Close()
	}
	return nil
}
