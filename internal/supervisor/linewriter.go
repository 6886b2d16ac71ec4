package supervisor

import (
	"bytes"
	"strings"
	"sync"

	"github.com/rcliao/agent-desk/internal/event"
)

// lineWriter buffers a child stream, classifies each complete line and keeps
// the full text for the run result.
type lineWriter struct {
	stream event.Stream
	emit   func(event.Event)

	mu  sync.Mutex
	buf []byte
	all strings.Builder
}

func newLineWriter(stream event.Stream, emit func(event.Event)) *lineWriter {
	return &lineWriter{stream: stream, emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.all.Write(p)
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.line(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.line(string(w.buf))
		w.buf = nil
	}
}

func (w *lineWriter) line(s string) {
	if ev, ok := event.Classify(w.stream, s); ok {
		w.emit(ev)
	}
}

func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.all.String()
}
