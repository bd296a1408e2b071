/*
Package redis は、 Redis を利用した storage.Store の実装です。
*/
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/storage"
)

// client captures the subset of go-redis commands the store relies on.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Configは、Storeの設定です。
type Config struct {
	// Clientは、使用するクライアントです。nilの場合はAddr等から新しく生成し、Closeで閉じます。
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int

	// KeyPrefixは、全てのキーに付与する接頭辞です。デフォルトは "wsconn:" です。
	KeyPrefix string
	// TTLは、保存した値の有効期間です。0の場合は無期限です。
	TTL time.Duration
}

// Storeは、Redisの文字列値として一覧を保存するStoreです。
type Store struct {
	cfg       Config
	client    client
	ownClient bool
}

var _ storage.Store = (*Store)(nil)

// Newは、Storeを返却します。
func New(cfg Config) (*Store, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "wsconn:"
	}
	if cfg.TTL < 0 {
		return nil, errors.Errorf("redis ttl must not be negative: %w", errors.ErrInvalidConfig)
	}
	if cfg.Client != nil {
		return newStore(cfg, cfg.Client, false), nil
	}
	if cfg.Addr == "" {
		return nil, errors.Errorf("redis client or addr is required: %w", errors.ErrInvalidConfig)
	}
	cl := redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
	return newStore(cfg, cl, true), nil
}

func newStore(cfg Config, cl client, own bool) *Store {
	return &Store{cfg: cfg, client: cl, ownClient: own}
}

func (s *Store) key(key string) string {
	return s.cfg.KeyPrefix + key
}

func (s *Store) Save(ctx context.Context, key string, envs []message.Envelope) error {
	bs, err := storage.Marshal(envs)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), bs, s.cfg.TTL).Err(); err != nil {
		return errors.Errorf("redis set %s: %w", s.key(key), err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, key string) ([]message.Envelope, error) {
	bs, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Errorf("redis get %s: %w", s.key(key), err)
	}
	return storage.Unmarshal(bs)
}

func (s *Store) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Errorf("redis del %s: %w", s.key(key), err)
	}
	return nil
}

// Closeは、Storeが生成したクライアントを閉じます。Config.Clientで渡したクライアントは閉じません。
func (s *Store) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}
