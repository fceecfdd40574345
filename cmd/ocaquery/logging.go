package main

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// rotatingWriter rejects writes after Close so late log lines from stopping
// goroutines do not reopen a rotated file.
type rotatingWriter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func (r *rotatingWriter) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	return r.w.Write(p)
}

func (r *rotatingWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.w.Close()
}

// newLogger builds the process logger. With a log file, JSON lines go to a
// size-rotated file and the returned closer releases it; otherwise
// human-readable output goes to stderr and the closer is nil.
func newLogger(stderr io.Writer, logFile string, maxSizeMB int, debug bool) (zerolog.Logger, io.Closer) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	if logFile == "" {
		out := zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}
		return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
	}

	w := &rotatingWriter{w: &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		Compress:   true,
	}}
	return zerolog.New(w).Level(level).With().Timestamp().Int("pid", os.Getpid()).Logger(), w
}
