package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger пишет сообщения с парами ключ/значение: l.Info("saved", "path", p).
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

const (
	WriterConsole = "console"
	WriterFile    = "file"

	DefaultLevel   = "info"
	DefaultFile    = ".fetchoraw/fetchoraw.log"
	DefaultMaxSize = 10 // MB
)

type Config struct {
	Level  string   `mapstructure:"level"`
	Writer []string `mapstructure:"writer"`
	File   string   `mapstructure:"file"`
}

func NewConfig() Config {
	return Config{
		Level:  DefaultLevel,
		Writer: []string{WriterConsole},
		File:   DefaultFile,
	}
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New собирает zerolog из указанных writer'ов. Без writer'ов логи уходят в stderr.
func New(c Config) (Logger, error) {
	level := zerolog.InfoLevel
	if c.Level != "" {
		lv, err := zerolog.ParseLevel(strings.ToLower(c.Level))
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		level = lv
	}

	var writers []io.Writer
	for _, w := range c.Writer {
		switch w {
		case WriterConsole:
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		case WriterFile:
			file := c.File
			if file == "" {
				file = DefaultFile
			}
			if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
				return nil, fmt.Errorf("logger: %w", err)
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   file,
				MaxSize:    DefaultMaxSize,
				MaxBackups: 3,
				Compress:   true,
			})
		default:
			return nil, fmt.Errorf("logger: unknown writer %q", w)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &zeroLogger{zl: zl}, nil
}

// NewWriter пишет JSON-строки в w. Используется в тестах.
func NewWriter(w io.Writer, level zerolog.Level) Logger {
	return &zeroLogger{zl: zerolog.New(w).Level(level)}
}

// NewNop ничего не пишет.
func NewNop() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

func (l *zeroLogger) Debug(msg string, kv ...any) { l.zl.Debug().Fields(kv).Msg(msg) }
func (l *zeroLogger) Info(msg string, kv ...any)  { l.zl.Info().Fields(kv).Msg(msg) }
func (l *zeroLogger) Warn(msg string, kv ...any)  { l.zl.Warn().Fields(kv).Msg(msg) }
func (l *zeroLogger) Error(msg string, kv ...any) { l.zl.Error().Fields(kv).Msg(msg) }

func (l *zeroLogger) With(kv ...any) Logger {
	return &zeroLogger{zl: l.zl.With().Fields(kv).Logger()}
}
