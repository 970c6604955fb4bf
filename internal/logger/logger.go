// Package logger provides the process-wide structured logger with file rotation.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the logger configuration loaded from Logging.json.
type Config struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   bool   `json:"Compress"`
	Console    bool   `json:"Console"`
}

// DefaultConfig returns the logging defaults used when Logging.json omits a field.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		FilePath:   "log/ServiceLoader/serviceloader.log",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
		Console:    true,
	}
}

// consoleWriter hands console output to a goroutine so a stalled stdout
// (Windows Quick Edit selection, a full pipe) never stalls file logging.
// Lines are dropped when the buffer is full.
type consoleWriter struct {
	lines  chan []byte
	out    io.Writer
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func newConsoleWriter(out io.Writer, size int) *consoleWriter {
	cw := &consoleWriter{
		lines: make(chan []byte, size),
		out:   out,
		done:  make(chan struct{}),
	}
	go cw.pump()
	return cw
}

func (cw *consoleWriter) Write(p []byte) (int, error) {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	if cw.closed {
		return len(p), nil
	}
	line := append([]byte(nil), p...)
	select {
	case cw.lines <- line:
	default:
	}
	return len(p), nil
}

func (cw *consoleWriter) pump() {
	defer close(cw.done)
	for line := range cw.lines {
		_, _ = cw.out.Write(line)
	}
}

// Close stops accepting lines and waits until queued lines are written.
func (cw *consoleWriter) Close() {
	cw.mu.Lock()
	if cw.closed {
		cw.mu.Unlock()
		return
	}
	cw.closed = true
	close(cw.lines)
	cw.mu.Unlock()
	<-cw.done
}

// swapWriter is the fixed sink of every logger handed out. Init replaces
// its target, so loggers derived before a reload follow the new writers.
type swapWriter struct {
	mu     sync.RWMutex
	target zerolog.LevelWriter
}

func (w *swapWriter) Write(p []byte) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.target.Write(p)
}

func (w *swapWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.target.WriteLevel(level, p)
}

// swap installs out and returns once no write to the previous target is
// in flight.
func (w *swapWriter) swap(out io.Writer) {
	lw, ok := out.(zerolog.LevelWriter)
	if !ok {
		lw = zerolog.MultiLevelWriter(out)
	}
	w.mu.Lock()
	w.target = lw
	w.mu.Unlock()
}

var (
	mu          sync.Mutex
	sink        = &swapWriter{target: zerolog.MultiLevelWriter(os.Stdout)}
	global      = zerolog.New(sink).With().Timestamp().Caller().Logger()
	serviceMode bool
	fileOut     io.Closer
	consoleOut  *consoleWriter
)

// SetServiceMode disables console output. Services have no usable stdout.
func SetServiceMode(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	serviceMode = enabled
}

// Init configures the global logger. It is safe to call again on hot
// reload: loggers obtained earlier switch to the new writers, and the
// previous writers are closed once nothing writes to them.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var (
		writers []io.Writer
		newFile io.Closer
		newCons *consoleWriter
	)

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return err
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		newFile = lj
		writers = append(writers, lj)
	}

	if cfg.Console && !serviceMode {
		newCons = newConsoleWriter(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}, 1000)
		writers = append(writers, newCons)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
		if !serviceMode {
			out = os.Stdout
		}
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	sink.swap(out)
	closeWriters()
	fileOut, consoleOut = newFile, newCons
	return nil
}

// Close flushes the console writer and closes the log file. Later log
// lines are discarded until the next Init.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	sink.swap(io.Discard)
	closeWriters()
}

func closeWriters() {
	if fileOut != nil {
		_ = fileOut.Close()
		fileOut = nil
	}
	if consoleOut != nil {
		consoleOut.Close()
		consoleOut = nil
	}
}

// MinLevel reports the minimum level the process currently logs at.
func MinLevel() zerolog.Level {
	return zerolog.GlobalLevel()
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return global
}

// Info starts an info event on the global logger.
func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

// Warn starts a warning event on the global logger.
func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

// Error starts an error event on the global logger.
func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}

// WithComponent returns a child logger tagged with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger().With().Str("component", component).Logger()
}
