// Package logger provides the colored, leveled console logger used
// throughout raknet-go. It keeps the teacher's level enum and
// Debug/Info/Warn/Error/Success/Fatal/Banner call shape, but delegates
// the actual formatting and coloring to log/slog with a tint handler
// instead of a hand-rolled ANSI escape table.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Log levels, ordered so a higher value is always more severe. Success
// is a cosmetic level between Info and Warn: it renders green but
// doesn't change control flow.
const (
	LevelDebug = iota
	LevelInfo
	LevelSuccess
	LevelWarn
	LevelError
	LevelFatal
)

// levelSlog maps our levels onto slog's, since slog has no native
// "success" level.
var levelSlog = map[int]slog.Level{
	LevelDebug:   slog.LevelDebug,
	LevelInfo:    slog.LevelInfo,
	LevelSuccess: slog.LevelInfo,
	LevelWarn:    slog.LevelWarn,
	LevelError:   slog.LevelError,
	LevelFatal:   slog.LevelError,
}

// Logger is a leveled, colored logger bound to a single destination.
type Logger struct {
	slog     *slog.Logger
	minLevel int
}

var defaultLogger = New(os.Stderr, LevelInfo)

// New builds a Logger writing tint-colored output to w.
func New(w *os.File, minLevel int) *Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      slog.LevelDebug, // filtering is done by minLevel in log
		TimeFormat: "15:04:05",
	})
	return &Logger{slog: slog.New(handler), minLevel: minLevel}
}

// SetLevel adjusts the minimum level the default logger emits.
func SetLevel(level int) { defaultLogger.minLevel = level }

func (l *Logger) log(level int, format string, args ...any) {
	if level < l.minLevel {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if level == LevelSuccess {
		l.slog.LogAttrs(context.Background(), slog.LevelInfo, msg, slog.Bool("ok", true))
		return
	}
	l.slog.Log(context.Background(), levelSlog[level], msg)
}

func (l *Logger) Debug(format string, args ...any)   { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)    { l.log(LevelInfo, format, args...) }
func (l *Logger) Success(format string, args ...any) { l.log(LevelSuccess, format, args...) }
func (l *Logger) Warn(format string, args ...any)    { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any)   { l.log(LevelError, format, args...) }

func (l *Logger) Fatal(format string, args ...any) {
	l.log(LevelFatal, format, args...)
	os.Exit(1)
}

// Banner prints a one-line startup banner, replacing the teacher's ASCII
// art block with a structured log line — the art doesn't survive the
// move to slog, the boot announcement does.
func (l *Logger) Banner(title, version string) {
	l.slog.Info(fmt.Sprintf("%s (v%s) starting — %s", title, version, time.Now().Format("2006-01-02 15:04:05")))
}

// Package-level helpers delegate to the default logger, matching the
// teacher's free-function call sites (logger.Info(...), logger.Success(...)).
func Debug(format string, args ...any)   { defaultLogger.Debug(format, args...) }
func Info(format string, args ...any)    { defaultLogger.Info(format, args...) }
func Success(format string, args ...any) { defaultLogger.Success(format, args...) }
func Warn(format string, args ...any)    { defaultLogger.Warn(format, args...) }
func Error(format string, args ...any)   { defaultLogger.Error(format, args...) }
func Fatal(format string, args ...any)   { defaultLogger.Fatal(format, args...) }
func Banner(title, version string)       { defaultLogger.Banner(title, version) }
