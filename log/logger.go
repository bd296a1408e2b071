// Package logは、wsconn内で使用するロガーを提供します。
//
// コンテキストにセットしたトラッキング情報(コネクションID、セッションID、プールのメンバー名)は、
// 各ロガーの実装が出力へ付与します。
package log

import (
	"context"
	"fmt"
	"math/rand/v2"
)

// Loggerは、wsconn内で使用するロガーインターフェースです。
type Logger interface {
	Infof(context.Context, string, ...any)
	Warnf(context.Context, string, ...any)
	Errorf(context.Context, string, ...any)
	Debugf(context.Context, string, ...any)
}

type trackKey int

const (
	trackConnIDKey trackKey = iota
	trackSessionIDKey
	trackMemberKey
)

// trackFieldは、ログへ付与するトラッキング情報です。
type trackField struct {
	key   string
	value string
}

var trackKeys = []struct {
	ctxKey trackKey
	name   string
}{
	{trackMemberKey, "member"},
	{trackConnIDKey, "conn_id"},
	{trackSessionIDKey, "session_id"},
}

func trackFields(ctx context.Context) []trackField {
	var res []trackField
	for _, k := range trackKeys {
		if v, ok := ctx.Value(k.ctxKey).(string); ok && v != "" {
			res = append(res, trackField{key: k.name, value: v})
		}
	}
	return res
}

func trackValue(ctx context.Context, key trackKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// WithTrackConnIDは、コネクションIDをコンテキストにセットします。
func WithTrackConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, trackConnIDKey, connID)
}

// TrackConnIDは、コンテキストにセットされたコネクションIDを取得します。
func TrackConnID(ctx context.Context) string {
	return trackValue(ctx, trackConnIDKey)
}

// WithTrackSessionIDは、新たにセッションIDを採番しコンテキストにセットします。
//
// セッションIDはトランスポートが開通するたびに採番するため、再接続の前後のログを区別できます。
func WithTrackSessionID(ctx context.Context) context.Context {
	return context.WithValue(ctx, trackSessionIDKey, genTrackID())
}

// TrackSessionIDは、コンテキストにセットされたセッションIDを取得します。
func TrackSessionID(ctx context.Context) string {
	return trackValue(ctx, trackSessionIDKey)
}

// WithTrackMemberは、プールのメンバー名をコンテキストにセットします。
func WithTrackMember(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, trackMemberKey, name)
}

// TrackMemberは、コンテキストにセットされたプールのメンバー名を取得します。
func TrackMember(ctx context.Context) string {
	return trackValue(ctx, trackMemberKey)
}

func genTrackID() string {
	return fmt.Sprintf("%08x", rand.Uint32())
}
