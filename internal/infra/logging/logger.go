// Package logging wraps zerolog with a small key/value API used across the service.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// InitLogger configures the global logger. Output always goes to stdout; when
// file is set it is also written to a rotating log file.
func InitLogger(file string, maxSizeMB, maxBackups, maxAgeDays int, compress bool, level string) {
	var w io.Writer = os.Stdout
	if file != "" {
		w = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   compress,
		})
	}

	l := zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(level))

	mu.Lock()
	logger = l
	mu.Unlock()
}

// SetLogLevel changes the level of the current logger. Unknown levels fall back to info.
func SetLogLevel(level string) {
	mu.Lock()
	logger = logger.Level(parseLevel(level))
	mu.Unlock()
}

// SetLoggerForTest replaces the global logger.
func SetLoggerForTest(l zerolog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs msg with alternating key/value pairs.
func Debug(msg string, kv ...interface{}) {
	l := current()
	write(l.Debug(), msg, kv)
}

// Info logs msg with alternating key/value pairs.
func Info(msg string, kv ...interface{}) {
	l := current()
	write(l.Info(), msg, kv)
}

// Warn logs msg with alternating key/value pairs.
func Warn(msg string, kv ...interface{}) {
	l := current()
	write(l.Warn(), msg, kv)
}

// Error logs msg with alternating key/value pairs.
func Error(msg string, kv ...interface{}) {
	l := current()
	write(l.Error(), msg, kv)
}

func write(e *zerolog.Event, msg string, kv []interface{}) {
	if e == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, isErr := kv[i+1].(error); isErr {
			e = e.AnErr(key, err)
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	// A dangling key without a value is kept so it is not silently lost.
	if len(kv)%2 == 1 {
		e = e.Interface("extra", kv[len(kv)-1])
	}
	e.Msg(msg)
}
