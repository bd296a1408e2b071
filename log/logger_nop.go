package log

import "context"

// NewNopは、何も出力しないロガーを返却します。
//
// ロガーが設定されない場合の既定値として使用します。
func NewNop() Logger {
	return nop{}
}

type nop struct{}

func (nop) Infof(context.Context, string, ...any)  {}
func (nop) Warnf(context.Context, string, ...any)  {}
func (nop) Errorf(context.Context, string, ...any) {}
func (nop) Debugf(context.Context, string, ...any) {}
