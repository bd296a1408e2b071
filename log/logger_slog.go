package log

import (
	"context"
	"fmt"
	"log/slog"
)

type slogLogger struct {
	l *slog.Logger
}

// NewSlogは、`log/slog` のロガーへ出力するLoggerを返却します。
//
// トラッキング情報は属性 `member` 、 `conn_id` 、 `session_id` として出力します。
func NewSlog(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l}
}

func (l *slogLogger) Infof(ctx context.Context, format string, args ...any) {
	l.log(ctx, slog.LevelInfo, format, args...)
}

func (l *slogLogger) Warnf(ctx context.Context, format string, args ...any) {
	l.log(ctx, slog.LevelWarn, format, args...)
}

func (l *slogLogger) Errorf(ctx context.Context, format string, args ...any) {
	l.log(ctx, slog.LevelError, format, args...)
}

func (l *slogLogger) Debugf(ctx context.Context, format string, args ...any) {
	l.log(ctx, slog.LevelDebug, format, args...)
}

func (l *slogLogger) log(ctx context.Context, level slog.Level, format string, args ...any) {
	if !l.l.Enabled(ctx, level) {
		return
	}
	fields := trackFields(ctx)
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.String(f.key, f.value))
	}
	l.l.LogAttrs(ctx, level, fmt.Sprintf(format, args...), attrs...)
}
