// Package framing implements the newline-delimited message framing used by
// the wire protocol: one UTF-8 encoded message per line. The reader side
// reassembles messages that arrive split across reads and skips blank lines;
// the writer side serializes concurrent writers so every message lands on the
// stream as exactly one intact line.
package framing

import (
	"bufio"
	"bytes"
	"io"
	"sync"
)

// LineReader yields complete message lines from a byte stream. It is not
// safe for concurrent use; the transport reads sequentially so arrival order
// is preserved through decode.
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader wraps r. The internal buffer size only bounds single read
// syscalls, not line length: partial fragments are accumulated until the
// delimiter arrives.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReader(r)}
}

// Next returns the next non-blank line without its trailing newline. It
// returns io.EOF once the stream is exhausted. A final unterminated fragment
// is returned as a line before EOF is reported.
func (lr *LineReader) Next() ([]byte, error) {
	for {
		line, err := lr.readLine()
		if len(line) > 0 && len(bytes.TrimSpace(line)) == 0 {
			// Blank or whitespace-only line: skip unless the stream ended.
			if err != nil {
				return nil, err
			}
			continue
		}
		if len(line) == 0 && err == nil {
			continue
		}
		if len(line) == 0 {
			return nil, err
		}
		return line, nil
	}
}

// readLine accumulates bufio fragments until a full line is available.
func (lr *LineReader) readLine() ([]byte, error) {
	var full []byte
	for {
		frag, isPrefix, err := lr.r.ReadLine()
		if len(frag) > 0 {
			// ReadLine reuses its buffer; copy the fragment out.
			full = append(full, frag...)
		}
		if err != nil {
			return full, err
		}
		if !isPrefix {
			return full, nil
		}
	}
}

// LineWriter writes one message per line. A mutex serializes writers so that
// responses completed by concurrent handlers interleave at line granularity,
// never mid-message.
type LineWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewLineWriter wraps w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: bufio.NewWriter(w)}
}

// WriteLine writes p followed by a newline and flushes. p must not contain
// raw newline bytes; the JSON encoding upstream guarantees that.
func (lw *LineWriter) WriteLine(p []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if _, err := lw.w.Write(p); err != nil {
		return err
	}
	if err := lw.w.WriteByte('\n'); err != nil {
		return err
	}
	return lw.w.Flush()
}
