package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"serviceloader/internal/config"
	"serviceloader/internal/logger"
)

// FileSink writes events as JSON lines to a rotated file.
type FileSink struct {
	writer      *lumberjack.Logger
	prettyPrint bool
	mu          sync.Mutex
	closed      bool
}

// NewFileSink creates a new FileSink with the given configuration.
func NewFileSink(cfg config.FileConfig) (*FileSink, error) {
	log := logger.WithComponent("file-sink")

	if cfg.FilePath == "" {
		return nil, fmt.Errorf("event file path is required")
	}

	dir := filepath.Dir(cfg.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create event log directory: %w", err)
		}
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}

	log.Info().
		Str("file_path", cfg.FilePath).
		Bool("pretty", cfg.Pretty).
		Msg("FileSink initialized")

	return &FileSink{writer: writer, prettyPrint: cfg.Pretty}, nil
}

// Send appends one event to the file.
func (s *FileSink) Send(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sink is closed")
	}

	var data []byte
	var err error
	if s.prettyPrint {
		data, err = json.MarshalIndent(ev, "", "  ")
	} else {
		data, err = json.Marshal(ev)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

// Close releases resources held by the FileSink.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.writer.Close()
}
