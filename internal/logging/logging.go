// Package logging provides the process-wide leveled sink. It tees a
// persistent file sink and a console sink, each with its own minimum level.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NanoLevel sits one step below zap's debug level.
const NanoLevel = zapcore.DebugLevel - 1

// OffLevel disables a sink entirely.
const OffLevel = zapcore.FatalLevel + 1

type Config struct {
	File         string `mapstructure:"file" json:"file" yaml:"file"`
	FileLevel    string `mapstructure:"file_level" json:"file_level" yaml:"file_level"`
	ConsoleLevel string `mapstructure:"console_level" json:"console_level" yaml:"console_level"`
}

// ParseLevel maps nano|debug|info|warn|error|fatal|off to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nano":
		return NanoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	case "off", "none":
		return OffLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

type Option func(*options)

type options struct {
	console io.Writer
}

// WithConsole replaces stderr as the console sink.
func WithConsole(w io.Writer) Option {
	return func(o *options) {
		o.console = w
	}
}

type Logger struct {
	sugar *zap.SugaredLogger
	fatal *fatalHandlers
	file  *os.File
}

type fatalHandlers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
	sync func() error
}

func (h *fatalHandlers) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {
	if h.sync != nil {
		_ = h.sync()
	}

	h.mu.Lock()
	fns := make([]func(), 0, len(h.fns))
	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func New(cfg Config, opts ...Option) (*Logger, error) {
	o := options{console: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	consoleLevel, err := ParseLevel(cfg.ConsoleLevel)
	if err != nil {
		return nil, fmt.Errorf("console level: %w", err)
	}
	fileLevel, err := ParseLevel(cfg.FileLevel)
	if err != nil {
		return nil, fmt.Errorf("file level: %w", err)
	}

	consoleSink := zapcore.Lock(zapcore.AddSync(o.console))
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), consoleSink, minLevel(consoleLevel)),
	}

	var (
		file    *os.File
		openErr error
	)
	if cfg.File != "" && fileLevel < OffLevel {
		file, openErr = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if openErr == nil {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(fileEncoderConfig()),
				zapcore.Lock(file),
				minLevel(fileLevel),
			))
		}
	}

	l := &Logger{
		fatal: &fatalHandlers{fns: map[int]func(){}},
		file:  file,
	}
	base := zap.New(zapcore.NewTee(cores...),
		zap.ErrorOutput(consoleSink),
		zap.WithFatalHook(l.fatal),
	)
	l.sugar = base.Sugar()
	l.fatal.sync = l.sugar.Sync

	if openErr != nil {
		l.Warnw("log file unusable, logging to console only",
			"file", cfg.File,
			"error", openErr,
		)
	}

	return l, nil
}

// NewWithCore wraps an existing core. Tests use it with zaptest/observer.
func NewWithCore(core zapcore.Core) *Logger {
	l := &Logger{fatal: &fatalHandlers{fns: map[int]func(){}}}
	l.sugar = zap.New(core, zap.WithFatalHook(l.fatal)).Sugar()
	l.fatal.sync = l.sugar.Sync
	return l
}

func NewNop() *Logger {
	return NewWithCore(zapcore.NewNopCore())
}

// With returns a child logger that shares the sinks and fatal handlers.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{
		sugar: l.sugar.With(keysAndValues...),
		fatal: l.fatal,
		file:  l.file,
	}
}

// OnFatal registers fn to run after a Fatal entry has been written and
// flushed. The returned func unregisters it.
func (l *Logger) OnFatal(fn func()) func() {
	l.fatal.mu.Lock()
	defer l.fatal.mu.Unlock()

	id := l.fatal.next
	l.fatal.next++
	l.fatal.fns[id] = fn

	return func() {
		l.fatal.mu.Lock()
		delete(l.fatal.fns, id)
		l.fatal.mu.Unlock()
	}
}

func (l *Logger) Nanow(msg string, keysAndValues ...any) {
	base := l.sugar.Desugar()
	if !base.Core().Enabled(NanoLevel) {
		return
	}
	if ce := l.sugar.With(keysAndValues...).Desugar().Check(NanoLevel, msg); ce != nil {
		ce.Write()
	}
}

func (l *Logger) Debugw(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *Logger) Infow(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *Logger) Warnw(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *Logger) Errorw(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Fatalw writes and flushes the entry, then runs the OnFatal handlers.
// It does not exit the process.
func (l *Logger) Fatalw(msg string, keysAndValues ...any) {
	l.sugar.Fatalw(msg, keysAndValues...)
}

func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Close flushes and releases the log file, if any.
func (l *Logger) Close() error {
	err := l.Sync()
	if l.file != nil {
		err = multierr.Append(err, l.file.Close())
		l.file = nil
	}
	return err
}

func minLevel(min zapcore.Level) zap.LevelEnablerFunc {
	return func(lvl zapcore.Level) bool {
		return lvl >= min
	}
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncodeLevel = letterLevelEncoder
	cfg.EncodeCaller = nil
	cfg.CallerKey = ""
	cfg.StacktraceKey = ""
	return cfg
}

func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = nameLevelEncoder
	cfg.StacktraceKey = ""
	return cfg
}

func letterLevelEncoder(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(LevelLetter(lvl))
}

func nameLevelEncoder(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if lvl == NanoLevel {
		enc.AppendString("nano")
		return
	}
	enc.AppendString(lvl.String())
}

// LevelLetter renders the single-letter indicator used on the console.
func LevelLetter(lvl zapcore.Level) string {
	switch {
	case lvl <= NanoLevel:
		return "N"
	case lvl == zapcore.DebugLevel:
		return "D"
	case lvl == zapcore.InfoLevel:
		return "I"
	case lvl == zapcore.WarnLevel:
		return "W"
	case lvl == zapcore.ErrorLevel:
		return "E"
	default:
		return "F"
	}
}
