package log

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// NewStdは、`log` パッケージのデフォルトロガーへ出力するLoggerを返却します。
func NewStd() Logger {
	return NewStdWith(log.Default())
}

// NewStdWithは、指定した `log.Logger` へ出力するLoggerを返却します。
//
// 出力は `LEVEL: key=value ... message` の形式です。
func NewStdWith(l *log.Logger) Logger {
	return std{l: l}
}

type std struct {
	l *log.Logger
}

func (s std) Infof(ctx context.Context, format string, args ...any) {
	s.output(ctx, "INFO", format, args)
}

func (s std) Warnf(ctx context.Context, format string, args ...any) {
	s.output(ctx, "WARN", format, args)
}

func (s std) Errorf(ctx context.Context, format string, args ...any) {
	s.output(ctx, "ERROR", format, args)
}

func (s std) Debugf(ctx context.Context, format string, args ...any) {
	s.output(ctx, "DEBUG", format, args)
}

func (s std) output(ctx context.Context, level, format string, args []any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(": ")
	for _, f := range trackFields(ctx) {
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(f.value)
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, format, args...)
	// Infof等とoutputの2段を飛ばして呼び出し元を出力します。
	s.l.Output(3, b.String())
}
