package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Framer turns a byte stream into discrete frames and back. Reads are
// buffered, so frames split across multiple reads and multiple frames
// arriving in one read both work. Writes are serialized and each frame
// goes out as a single Write call.
type Framer struct {
	r *bufio.Reader

	mu sync.Mutex // serializes writes
	w  io.Writer
}

// NewFramer wraps a bidirectional stream.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{
		r: bufio.NewReader(rw),
		w: rw,
	}
}

// ReadFrame blocks until a complete newline-terminated frame is
// buffered and decodes it. A frame that fails to decode returns an
// error wrapping ErrMalformedFrame; the stream stays aligned on the
// next frame and the caller may keep reading. I/O errors are terminal.
func (f *Framer) ReadFrame() (*Frame, error) {
	for {
		line, err := f.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
				// Final frame without a trailing newline.
				return DecodeFrame(bytes.TrimSpace(line))
			}
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return DecodeFrame(line)
	}
}

// WriteMessage serializes and writes a request frame.
func (f *Framer) WriteMessage(m *Message) error {
	return f.writeFrame(m)
}

// WriteResponse serializes and writes a response frame.
func (f *Framer) WriteResponse(r *Response) error {
	return f.writeFrame(r)
}

// WriteAck serializes and writes a handshake acknowledgment frame.
func (f *Framer) WriteAck(a *Ack) error {
	return f.writeFrame(a)
}

func (f *Framer) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
