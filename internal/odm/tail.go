// internal/odm/tail.go
package odm

import (
	"strings"
	"sync"
)

// tailWriter keeps a rolling tail of the most recent complete output lines
// written through it, so diagnostics can include the end of a long engine
// log without buffering the whole thing.
type tailWriter struct {
	mu      sync.Mutex
	limit   int
	lines   []string
	partial strings.Builder
	emit    func(line string)
}

// newTailWriter returns a tailWriter retaining up to limit lines. emit, when
// non-nil, is called once per complete line as it is written.
func newTailWriter(limit int, emit func(line string)) *tailWriter {
	if limit <= 0 {
		limit = 50
	}
	return &tailWriter{limit: limit, emit: emit}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			w.pushLine()
			continue
		}
		w.partial.WriteByte(b)
	}
	return len(p), nil
}

func (w *tailWriter) pushLine() {
	line := strings.TrimRight(w.partial.String(), "\r")
	w.partial.Reset()
	w.lines = append(w.lines, line)
	if len(w.lines) > w.limit {
		w.lines = w.lines[len(w.lines)-w.limit:]
	}
	if w.emit != nil {
		w.emit(line)
	}
}

// Tail returns the retained lines joined with newlines, flushing any
// unterminated final line first.
func (w *tailWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.partial.Len() > 0 {
		w.pushLine()
	}
	return strings.Join(w.lines, "\n")
}
