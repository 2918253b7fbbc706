package executor

import (
	"bytes"
	"io"
	"sync"
)

// PrefixWriter attributes command output to a task by prefixing every line
// with "[name] ". Concurrent tasks share one underlying writer; the mutex
// guarantees a task's lines are written whole and never interleaved
// byte-for-byte with a sibling's.
type PrefixWriter struct {
	mu     sync.Mutex
	out    io.Writer
	prefix []byte
	buf    bytes.Buffer
}

// NewPrefixWriter returns a writer attributing lines to label.
func NewPrefixWriter(out io.Writer, label string) *PrefixWriter {
	return &PrefixWriter{out: out, prefix: []byte("[" + label + "] ")}
}

// Write buffers p and emits complete lines with the task prefix. A trailing
// partial line is held until the next write or Flush.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line: put it back and wait for more bytes.
			w.buf.Write(line)
			break
		}
		if err := w.emit(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush emits any buffered partial line, terminating it with a newline.
// Call once after the command exits.
func (w *PrefixWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	line := append(w.buf.Bytes(), '\n')
	w.buf.Reset()
	return w.emit(line)
}

// emit writes prefix+line as a single Write on the shared writer. Two calls
// would let a sibling's line land between a task's prefix and its text.
func (w *PrefixWriter) emit(line []byte) error {
	buf := make([]byte, 0, len(w.prefix)+len(line))
	buf = append(buf, w.prefix...)
	buf = append(buf, line...)
	_, err := w.out.Write(buf)
	return err
}
