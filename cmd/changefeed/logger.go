package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// slogLogger backs the glog contract with a JSON slog handler for the
// command line entrypoint.
type slogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func newLogger(w io.Writer, level string) *slogLogger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return &slogLogger{logger: slog.New(handler), ctx: context.Background()}
}

func (l *slogLogger) Trace(msg string, args ...any) {
	l.logger.DebugContext(l.ctx, msg, args...)
}

func (l *slogLogger) Debug(msg string, args ...any) {
	l.logger.DebugContext(l.ctx, msg, args...)
}

func (l *slogLogger) Info(msg string, args ...any) {
	l.logger.InfoContext(l.ctx, msg, args...)
}

func (l *slogLogger) Warn(msg string, args ...any) {
	l.logger.WarnContext(l.ctx, msg, args...)
}

func (l *slogLogger) Error(msg string, args ...any) {
	l.logger.ErrorContext(l.ctx, msg, args...)
}

func (l *slogLogger) Fatal(msg string, args ...any) {
	l.logger.ErrorContext(l.ctx, msg, args...)
	os.Exit(1)
}

func (l *slogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &slogLogger{logger: l.logger, ctx: ctx}
}

type slogProvider struct {
	root *slogLogger
}

func (p slogProvider) GetLogger(name string) glog.Logger {
	return &slogLogger{logger: p.root.logger.With("logger", name), ctx: p.root.ctx}
}

var (
	_ glog.Logger         = (*slogLogger)(nil)
	_ glog.LoggerProvider = slogProvider{}
)
