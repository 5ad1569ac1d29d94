// Package logger builds the node's zerolog logger from its configuration and
// keeps a process-wide instance for the CLI.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/NOVAInetwork/NOVAI-node/internal/types"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

const defaultMaxSizeMB = 10

// Config represents logger configuration
type Config struct {
	ConsoleOutput bool   `yaml:"console_output"`
	ConsoleColor  bool   `yaml:"console_color"`
	FileOutput    bool   `yaml:"file_output"`
	FileName      string `yaml:"file_name"`
	FileMaxSize   string `yaml:"file_max_size"`
	Level         string `yaml:"level"`
	// Format is "json" or "text"; text renders through zerolog.ConsoleWriter.
	Format string `yaml:"format"`
	// Dir is where a relative FileName is placed. Defaults to the
	// executable's directory.
	Dir string `yaml:"-"`
}

// FromLoggingConfig maps the node's logging section onto a logger Config.
// Relative log files go into dataDir.
func FromLoggingConfig(cfg types.LoggingConfig, dataDir string) Config {
	return Config{
		ConsoleOutput: cfg.ConsoleOutput,
		ConsoleColor:  cfg.Format == "text",
		FileOutput:    cfg.FileOutput,
		FileName:      cfg.FileName,
		FileMaxSize:   cfg.FileMaxSize,
		Level:         cfg.Level,
		Format:        cfg.Format,
		Dir:           dataDir,
	}
}

// Logger wraps a zerolog.Logger with key/value helpers.
type Logger struct {
	zlog zerolog.Logger
}

var globalLogger *Logger

// Init installs the process-wide logger.
func Init(config Config) error {
	l, err := New(config)
	if err != nil {
		return err
	}
	globalLogger = l
	return nil
}

// New creates a logger writing to the console, a rotated file, or both.
func New(config Config) (*Logger, error) {
	level, err := parseLogLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var writers []io.Writer
	if config.ConsoleOutput {
		writers = append(writers, consoleWriter(config))
	}
	if config.FileOutput {
		fw, err := fileWriter(config)
		if err != nil {
			return nil, err
		}
		writers = append(writers, fw)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = os.Stdout
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	return &Logger{
		zlog: zerolog.New(out).Level(level).With().Timestamp().Logger(),
	}, nil
}

func consoleWriter(config Config) io.Writer {
	if config.Format != "text" {
		return os.Stdout
	}
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    !config.ConsoleColor,
	}
}

func fileWriter(config Config) (io.Writer, error) {
	if config.FileName == "" {
		return nil, fmt.Errorf("file_name is required when file_output is enabled")
	}
	maxSizeMB, err := parseMaxSize(config.FileMaxSize)
	if err != nil {
		return nil, fmt.Errorf("invalid file_max_size: %w", err)
	}

	path := config.FileName
	if !filepath.IsAbs(path) {
		dir := config.Dir
		if dir == "" {
			execPath, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("failed to get executable directory: %w", err)
			}
			dir = filepath.Dir(execPath)
		}
		path = filepath.Join(dir, path)
	}

	return &lumberjack.Logger{
		Filename: path,
		MaxSize:  maxSizeMB,
		Compress: true,
	}, nil
}

// Zerolog returns the underlying logger for packages that log through zerolog directly.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Global returns the logger installed by Init, or a disabled one.
func Global() zerolog.Logger {
	if globalLogger == nil {
		return zerolog.Nop()
	}
	return globalLogger.zlog
}

func parseLogLevel(levelStr string) (zerolog.Level, error) {
	switch strings.ToLower(levelStr) {
	case string(LevelDebug):
		return zerolog.DebugLevel, nil
	case string(LevelInfo):
		return zerolog.InfoLevel, nil
	case string(LevelWarn), "warning":
		return zerolog.WarnLevel, nil
	case string(LevelError):
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// parseMaxSize converts "10MB" or a bare number of megabytes.
func parseMaxSize(sizeStr string) (int, error) {
	if sizeStr == "" {
		return defaultMaxSizeMB, nil
	}
	trimmed := strings.TrimSuffix(strings.ToUpper(sizeStr), "MB")
	size, err := strconv.Atoi(trimmed)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("invalid size format: %s", sizeStr)
	}
	return size, nil
}

// Debug logs through the global logger.
func Debug(msg string, fields ...interface{}) { logGlobal(zerolog.DebugLevel, msg, fields) }

// Info logs through the global logger.
func Info(msg string, fields ...interface{}) { logGlobal(zerolog.InfoLevel, msg, fields) }

// Warn logs through the global logger.
func Warn(msg string, fields ...interface{}) { logGlobal(zerolog.WarnLevel, msg, fields) }

// Error logs through the global logger.
func Error(msg string, fields ...interface{}) { logGlobal(zerolog.ErrorLevel, msg, fields) }

// Fatal logs through the global logger and exits.
func Fatal(msg string, fields ...interface{}) {
	logGlobal(zerolog.ErrorLevel, msg, fields)
	os.Exit(1)
}

func logGlobal(level zerolog.Level, msg string, fields []interface{}) {
	if globalLogger != nil {
		globalLogger.log(level, msg, fields)
	}
}

// Debug logs msg with alternating key/value fields.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(zerolog.DebugLevel, msg, fields) }

// Info logs msg with alternating key/value fields.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(zerolog.InfoLevel, msg, fields) }

// Warn logs msg with alternating key/value fields.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(zerolog.WarnLevel, msg, fields) }

// Error logs msg with alternating key/value fields.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(zerolog.ErrorLevel, msg, fields) }

func (l *Logger) log(level zerolog.Level, msg string, fields []interface{}) {
	ev := l.zlog.WithLevel(level)
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(msg)
}
