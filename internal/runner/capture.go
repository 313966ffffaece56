package runner

import (
	"bytes"
	"io"
	"sync"
)

// capture accumulates stdout, stderr, and their interleaving, forwarding
// each chunk to an optional callback.
type capture struct {
	mu        sync.Mutex
	limit     int
	onOutput  func(Chunk)
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	combined  bytes.Buffer
	truncated bool
}

func newCapture(limit int, onOutput func(Chunk)) *capture {
	return &capture{limit: limit, onOutput: onOutput}
}

func (c *capture) writer(s Stream) io.Writer {
	return &streamWriter{c: c, stream: s}
}

type streamWriter struct {
	c      *capture
	stream Stream
}

func (w *streamWriter) Write(p []byte) (int, error) {
	c := w.c
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := &c.stdout
	if w.stream == Stderr {
		buf = &c.stderr
	}
	if limitWrite(buf, p, c.limit) || limitWrite(&c.combined, p, c.limit*2) {
		c.truncated = true
	}

	if c.onOutput != nil {
		data := make([]byte, len(p))
		copy(data, p)
		c.onOutput(Chunk{Stream: w.stream, Data: data})
	}
	// Report all bytes as consumed to avoid short write errors from io.Copy.
	return len(p), nil
}

// limitWrite writes up to limit bytes to buf, then silently discards the
// rest. It reports whether anything was discarded.
func limitWrite(buf *bytes.Buffer, p []byte, limit int) bool {
	remaining := limit - buf.Len()
	if remaining <= 0 {
		return len(p) > 0
	}
	if len(p) > remaining {
		buf.Write(p[:remaining])
		return true
	}
	buf.Write(p)
	return false
}
