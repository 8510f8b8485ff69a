package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format represents the output format for logs
type Format int

const (
	// FormatConsole is human-readable console output
	FormatConsole Format = iota
	// FormatJSON is structured JSON output
	FormatJSON
)

// String returns the string representation of a Format
func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "console"
}

// Level represents a logging level
type Level int

const (
	// DebugLevel is for debug messages
	DebugLevel Level = iota
	// InfoLevel is for informational messages
	InfoLevel
	// WarnLevel is for warning messages
	WarnLevel
	// ErrorLevel is for error messages
	ErrorLevel
)

// String returns the string representation of a Level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts a string to a Level
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides structured logging capabilities.
// A nil *Logger discards everything.
type Logger struct {
	zl     *zap.Logger
	level  zap.AtomicLevel
	format Format
}

// New creates a new Logger with the specified level and console format
func New(level Level) *Logger {
	return build(level, FormatConsole, os.Stdout)
}

// NewWithFormat creates a new Logger with the specified level and format
func NewWithFormat(level Level, format Format) *Logger {
	return build(level, format, os.Stdout)
}

// NewWithOutput creates a new Logger with the specified level and output writer
func NewWithOutput(level Level, output io.Writer) *Logger {
	return build(level, FormatConsole, output)
}

// NewWithFormatAndOutput creates a new Logger writing the given format to output
func NewWithFormatAndOutput(level Level, format Format, output io.Writer) *Logger {
	return build(level, format, output)
}

// Nop returns a Logger that discards all output
func Nop() *Logger {
	return &Logger{zl: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.ErrorLevel)}
}

func build(level Level, format Format, output io.Writer) *Logger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())

	encCfg := zapcore.EncoderConfig{
		TimeKey:          "timestamp",
		LevelKey:         "level",
		MessageKey:       "message",
		EncodeTime:       utcTime,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}

	var enc zapcore.Encoder
	if format == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(output), atom)
	return &Logger{zl: zap.New(core), level: atom, format: format}
}

func utcTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339))
}

// SetLevel changes the logging level
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.level.SetLevel(level.zapLevel())
}

// Level returns the current logging level
func (l *Logger) Level() Level {
	if l == nil {
		return ErrorLevel
	}
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.InfoLevel:
		return InfoLevel
	case zapcore.WarnLevel:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

// Format returns the output format of the logger
func (l *Logger) Format() Format {
	if l == nil {
		return FormatConsole
	}
	return l.format
}

// With returns a child logger that adds fields to every entry
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zl: l.zl.With(fields...), level: l.level, format: l.format}
}

// Debug logs a debug message with optional fields
func (l *Logger) Debug(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.zl.Debug(msg, fields...)
}

// Info logs an informational message with optional fields
func (l *Logger) Info(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.zl.Info(msg, fields...)
}

// Warn logs a warning message with optional fields
func (l *Logger) Warn(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.zl.Warn(msg, fields...)
}

// Error logs an error message with optional fields
func (l *Logger) Error(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.zl.Error(msg, fields...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.zl.Sync()
}

// Field represents a structured logging field
type Field = zap.Field

// String creates a Field with a string value
func String(key, value string) Field {
	return zap.String(key, value)
}

// Int creates a Field with an integer value
func Int(key string, value int) Field {
	return zap.Int(key, value)
}

// Int64 creates a Field with a 64-bit integer value
func Int64(key string, value int64) Field {
	return zap.Int64(key, value)
}

// Bool creates a Field with a boolean value
func Bool(key string, value bool) Field {
	return zap.Bool(key, value)
}

// Duration creates a Field with a duration value
func Duration(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}

// Error creates a Field with an error value
func Error(err error) Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("error", err.Error())
}

// Any creates a Field with any value
func Any(key string, value any) Field {
	return zap.Any(key, value)
}
