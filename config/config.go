package config

import (
	"time"
)

// Fileは、設定ファイルの内容です。
//
// ポインタ型のフィールドは、省略された場合にデフォルト値を使用します。
type File struct {
	Log        Log         `yaml:"log"`
	Transport  Transport   `yaml:"transport"`
	Storage    *Storage    `yaml:"storage"`
	Connection Connection  `yaml:"connection"`
	Pool       *PoolConfig `yaml:"pool"`
}

// Logは、ロガーの設定です。
type Log struct {
	// nop, std, text, jsonのいずれか。デフォルトはnopです。
	Format string `yaml:"format"`
	// debug, info, warn, errorのいずれか。text, jsonの場合のみ使用します。
	Level string `yaml:"level"`
}

// Transportは、WebSocketのDialerの設定です。
type Transport struct {
	// gorilla又はnhooyr。デフォルトはgorillaです。
	Implementation string         `yaml:"implementation"`
	DialTimeout    *time.Duration `yaml:"dial_timeout"`
	ReadLimit      *int64         `yaml:"read_limit"`
	// permessage-deflate拡張を使用するかどうか
	Compression *bool    `yaml:"compression"`
	Token       *string  `yaml:"token"`
	OAuth2      *OAuth2  `yaml:"oauth2"`
	// 送信元として使用するネットワークインターフェース名。先頭から順にフェイルオーバーします。
	Interfaces []string `yaml:"interfaces"`
}

// OAuth2は、クライアントクレデンシャルでアクセストークンを取得する設定です。
type OAuth2 struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// Storageは、キューを永続化するストアの設定です。
type Storage struct {
	// memory, redis, sqlite, postgres, natsのいずれか
	Driver   string           `yaml:"driver"`
	Redis    *RedisStorage    `yaml:"redis"`
	SQLite   *SQLiteStorage   `yaml:"sqlite"`
	Postgres *PostgresStorage `yaml:"postgres"`
	NATS     *NATSStorage     `yaml:"nats"`
}

type RedisStorage struct {
	Addr      string         `yaml:"addr"`
	Username  string         `yaml:"username"`
	Password  string         `yaml:"password"`
	DB        int            `yaml:"db"`
	KeyPrefix string         `yaml:"key_prefix"`
	TTL       *time.Duration `yaml:"ttl"`
}

type SQLiteStorage struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type PostgresStorage struct {
	ConnString string `yaml:"conn_string"`
	MinConns   int32  `yaml:"min_conns"`
	MaxConns   int32  `yaml:"max_conns"`
	Table      string `yaml:"table"`
}

type NATSStorage struct {
	URL      string         `yaml:"url"`
	Bucket   string         `yaml:"bucket"`
	TTL      *time.Duration `yaml:"ttl"`
	Replicas int            `yaml:"replicas"`
}

// Connectionは、コネクションの設定です。プールのメンバーはこの設定を共通で使用します。
type Connection struct {
	ID                *string             `yaml:"id"`
	URL               string              `yaml:"url"`
	Protocols         []string            `yaml:"protocols"`
	Headers           map[string][]string `yaml:"headers"`
	ConnectionTimeout *time.Duration      `yaml:"connection_timeout"`
	CloseTimeout      *time.Duration      `yaml:"close_timeout"`
	MaxMessageSize    *int64              `yaml:"max_message_size"`
	Encoding          *string             `yaml:"encoding"`
	Reconnect         *Reconnect          `yaml:"reconnect"`
	MessageQueue      *MessageQueue       `yaml:"message_queue"`
	Heartbeat         *Heartbeat          `yaml:"heartbeat"`
}

type Reconnect struct {
	Enabled           *bool          `yaml:"enabled"`
	Strategy          *string        `yaml:"strategy"`
	InitialDelay      *time.Duration `yaml:"initial_delay"`
	MaxDelay          *time.Duration `yaml:"max_delay"`
	MaxAttempts       *int           `yaml:"max_attempts"`
	BackoffMultiplier *float64       `yaml:"backoff_multiplier"`
	Jitter            *time.Duration `yaml:"jitter"`
}

type MessageQueue struct {
	Enabled       *bool          `yaml:"enabled"`
	MaxSize       *int           `yaml:"max_size"`
	Persistent    *bool          `yaml:"persistent"`
	StorageKey    *string        `yaml:"storage_key"`
	MessageExpiry *time.Duration `yaml:"message_expiry"`
	Deduplication *bool          `yaml:"deduplication"`
	SweepInterval *time.Duration `yaml:"sweep_interval"`
}

type Heartbeat struct {
	Enabled           *bool          `yaml:"enabled"`
	Interval          *time.Duration `yaml:"interval"`
	Timeout           *time.Duration `yaml:"timeout"`
	Message           *string        `yaml:"message"`
	MaxFailures       *int           `yaml:"max_failures"`
	AnyTrafficIsAlive *bool          `yaml:"any_traffic_is_alive"`
}

// PoolConfigは、コネクションプールの設定です。
type PoolConfig struct {
	Strategy             *string      `yaml:"strategy"`
	MaxConnections       *int         `yaml:"max_connections"`
	BroadcastConcurrency *int         `yaml:"broadcast_concurrency"`
	HealthCheck          *HealthCheck `yaml:"health_check"`
	Members              []Member     `yaml:"members"`
}

type HealthCheck struct {
	Enabled          *bool          `yaml:"enabled"`
	Interval         *time.Duration `yaml:"interval"`
	Timeout          *time.Duration `yaml:"timeout"`
	FailureThreshold *int           `yaml:"failure_threshold"`
}

// Memberは、プールのメンバーの設定です。URLとIDはConnectionの値を上書きします。
type Member struct {
	Name     string  `yaml:"name"`
	URL      string  `yaml:"url"`
	ID       *string `yaml:"id"`
	Priority int     `yaml:"priority"`
	Weight   int     `yaml:"weight"`
}
