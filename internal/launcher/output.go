package launcher

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// maxLine caps a buffered partial line so a process that never writes a
// newline cannot grow the buffer without bound.
const maxLine = 64 * 1024

// lineWriter forwards process output to the logger one line at a time.
type lineWriter struct {
	log    zerolog.Logger
	stream string

	mu  sync.Mutex
	buf []byte
}

func newLineWriter(log zerolog.Logger, stream string) *lineWriter {
	return &lineWriter{log: log, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.log.Info().Str(w.stream, string(line)).Msg("Process output")
}
