/*
Package sqlite は、 SQLite (modernc.org/sqlite) を利用した storage.Store の実装です。
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/storage"
)

// DriverNameは、modernc.org/sqliteが登録するドライバー名です。
const DriverName = "sqlite"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Configは、Storeの設定です。
type Config struct {
	// DBは、使用するデータベースです。nilの場合はDSNから新しく開き、Closeで閉じます。
	DB *sql.DB
	// DSNは、データベースのファイルパス又は接続文字列です。例: "file:queue.db?_pragma=busy_timeout(5000)"
	DSN string
	// Tableは、一覧を保存するテーブル名です。デフォルトは "wsconn_queue" です。
	Table string
}

// Storeは、SQLiteのテーブルへ一覧を保存するStoreです。
type Store struct {
	db    *sql.DB
	ownDB bool

	saveQuery  string
	loadQuery  string
	clearQuery string
}

var _ storage.Store = (*Store)(nil)

// Newは、テーブルを作成してStoreを返却します。
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		cfg.Table = "wsconn_queue"
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, errors.Errorf("invalid table name %q: %w", cfg.Table, errors.ErrInvalidConfig)
	}

	db := cfg.DB
	own := false
	if db == nil {
		if cfg.DSN == "" {
			return nil, errors.Errorf("sqlite db or dsn is required: %w", errors.ErrInvalidConfig)
		}
		var err error
		db, err = sql.Open(DriverName, cfg.DSN)
		if err != nil {
			return nil, errors.Errorf("open sqlite: %w", err)
		}
		// A single connection keeps ":memory:" databases shared and serializes writers.
		db.SetMaxOpenConns(1)
		own = true
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`, cfg.Table)); err != nil {
		if own {
			_ = db.Close()
		}
		return nil, errors.Errorf("create table %s: %w", cfg.Table, err)
	}

	return &Store{
		db:    db,
		ownDB: own,
		saveQuery: fmt.Sprintf(`INSERT INTO %s (key, payload, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`, cfg.Table),
		loadQuery:  fmt.Sprintf(`SELECT payload FROM %s WHERE key = ?`, cfg.Table),
		clearQuery: fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, cfg.Table),
	}, nil
}

func (s *Store) Save(ctx context.Context, key string, envs []message.Envelope) error {
	bs, err := storage.Marshal(envs)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.saveQuery, key, bs, time.Now().UnixMilli()); err != nil {
		return errors.Errorf("sqlite save %s: %w", key, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, key string) ([]message.Envelope, error) {
	var bs []byte
	if err := s.db.QueryRowContext(ctx, s.loadQuery, key).Scan(&bs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Errorf("sqlite load %s: %w", key, err)
	}
	return storage.Unmarshal(bs)
}

func (s *Store) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.clearQuery, key); err != nil {
		return errors.Errorf("sqlite clear %s: %w", key, err)
	}
	return nil
}

// Closeは、Storeが開いたデータベースを閉じます。Config.DBで渡したデータベースは閉じません。
func (s *Store) Close() error {
	if !s.ownDB {
		return nil
	}
	return s.db.Close()
}
