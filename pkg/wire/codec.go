package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

// MaxFrameSize bounds a single line on the wire.
const MaxFrameSize = 10 * 1024 * 1024 // 10 MB

// ErrFrameTooLarge is returned when a line exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Encoder writes '\n'-terminated JSON values to an io.Writer.
// It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder creates a new protocol encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w: bufio.NewWriter(w),
	}
}

// Encode writes v as one frame and flushes it.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errdefs.Serialization("failed to marshal frame", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(data); err != nil {
		return errdefs.Transport("failed to write frame", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return errdefs.Transport("failed to write newline", err)
	}
	if err := e.w.Flush(); err != nil {
		return errdefs.Transport("failed to flush", err)
	}
	return nil
}

// EncodeMessage wraps data in a Message envelope and writes it.
func (e *Encoder) EncodeMessage(msgType MessageType, id string, body bool, data any) error {
	if err := msgType.Validate(); err != nil {
		return errdefs.Serialization("invalid message type", err)
	}

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return errdefs.Serialization("failed to marshal message data", err)
		}
		raw = b
	}

	return e.Encode(&Message{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC(),
		Body:      body,
		Data:      raw,
	})
}

// EncodeError sends an ERROR message for request id.
func (e *Encoder) EncodeError(id string, kind errdefs.Kind, message string) error {
	return e.EncodeMessage(MessageTypeError, id, false, &ErrorData{
		Kind:    string(kind),
		Message: message,
	})
}

// Decode takes the first complete frame out of buf and unmarshals it into v.
//
// If buf holds no '\n' yet, Decode returns false and leaves buf untouched.
// Otherwise the line and its delimiter are always consumed, so a malformed
// frame is reported once and the following frame decodes normally.
func Decode(buf *bytes.Buffer, v any) (bool, error) {
	i := bytes.IndexByte(buf.Bytes(), '\n')
	if i < 0 {
		return false, nil
	}

	line := buf.Next(i + 1)
	return true, unmarshalLine(line[:i], v)
}

func unmarshalLine(line []byte, v any) error {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(line) == 0 {
		return errdefs.Serialization("empty frame", nil)
	}
	if !utf8.Valid(line) {
		return errdefs.Serialization("frame is not valid UTF-8", nil)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return errdefs.Serialization("failed to unmarshal frame", err)
	}
	return nil
}

// Decoder reads frames from an io.Reader.
type Decoder struct {
	r   io.Reader
	buf bytes.Buffer
	// skipping is set while discarding the tail of an oversized line.
	skipping bool
	chunk    []byte
}

// NewDecoder creates a new protocol decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:     r,
		chunk: make([]byte, 32*1024),
	}
}

// Decode reads the next frame into v. It returns io.EOF when the stream
// ends on a frame boundary and io.ErrUnexpectedEOF when it ends mid-frame.
// Decode errors on a single frame do not poison the decoder.
func (d *Decoder) Decode(v any) error {
	for {
		if d.skipping {
			i := bytes.IndexByte(d.buf.Bytes(), '\n')
			if i < 0 {
				d.buf.Reset()
			} else {
				d.buf.Next(i + 1)
				d.skipping = false
				continue
			}
		} else {
			i := bytes.IndexByte(d.buf.Bytes(), '\n')
			switch {
			case i > MaxFrameSize:
				d.buf.Next(i + 1)
				return errdefs.Serialization("failed to read frame", ErrFrameTooLarge)
			case i >= 0:
				_, err := Decode(&d.buf, v)
				return err
			case d.buf.Len() > MaxFrameSize:
				d.buf.Reset()
				d.skipping = true
				return errdefs.Serialization("failed to read frame", ErrFrameTooLarge)
			}
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf.Write(d.chunk[:n])
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if d.buf.Len() > 0 && !d.skipping {
					d.buf.Reset()
					return io.ErrUnexpectedEOF
				}
				return io.EOF
			}
			return errdefs.Transport("failed to read frame", err)
		}
	}
}

// DecodeMessage reads and validates the next message envelope.
func (d *Decoder) DecodeMessage() (*Message, error) {
	var msg Message
	if err := d.Decode(&msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, errdefs.Serialization("invalid message", err)
	}
	return &msg, nil
}
