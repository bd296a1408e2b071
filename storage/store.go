/*
Package storage は、メッセージキューの内容を永続化するストアを定義するパッケージです。

サブパッケージには、Redis、SQLite、PostgreSQL、NATS JetStream Key-Value を利用したストアがあります。
*/
package storage

import (
	"context"
	"encoding/json"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/message"
)

// Storeは、キーごとにエンベロープの一覧を保存する永続ストアです。
//
// 実装は複数のゴルーチンから同時に呼び出されても安全である必要があります。
type Store interface {
	// Saveは、keyに対応する一覧をenvsで置き換えます。
	Save(ctx context.Context, key string, envs []message.Envelope) error
	// Loadは、keyに対応する一覧を返却します。存在しない場合は空の一覧を返却します。
	Load(ctx context.Context, key string) ([]message.Envelope, error)
	// Clearは、keyに対応する一覧を削除します。
	Clear(ctx context.Context, key string) error
	// Closeは、ストアが保持するリソースを解放します。
	Close() error
}

// snapshotVersionは、永続化フォーマットのバージョンです。
const snapshotVersion = 1

type snapshot struct {
	Version  int                `json:"version"`
	Messages []message.Envelope `json:"messages"`
}

// Marshalは、エンベロープの一覧を永続化用のバイト列へ変換します。
func Marshal(envs []message.Envelope) ([]byte, error) {
	if envs == nil {
		envs = []message.Envelope{}
	}
	return json.Marshal(snapshot{Version: snapshotVersion, Messages: envs})
}

// Unmarshalは、Marshalで変換したバイト列をエンベロープの一覧へ戻します。
func Unmarshal(bs []byte) ([]message.Envelope, error) {
	if len(bs) == 0 {
		return nil, nil
	}
	var s snapshot
	if err := json.Unmarshal(bs, &s); err != nil {
		return nil, errors.Errorf("unmarshal snapshot: %v: %w", err, errors.ErrMalformedMessage)
	}
	if s.Version != snapshotVersion {
		return nil, errors.Errorf("unsupported snapshot version %d: %w", s.Version, errors.ErrMalformedMessage)
	}
	return s.Messages, nil
}
