package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{name: "null", value: nil},
		{name: "bool", value: true},
		{name: "number", value: 42.5},
		{name: "string with newline", value: "line one\nline two"},
		{name: "array", value: []any{1.0, "two", false}},
		{
			name: "runnable shape",
			value: map[string]any{
				"Command": map[string]any{
					"Nix": map[string]any{
						"Exec": map[string]any{"shell": "/bin/sh", "cmd": "whoami"},
					},
				},
			},
		},
		{name: "unicode", value: "héllo wörld ✓"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := NewEncoder(&out).Encode(tt.value); err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			if !strings.HasSuffix(out.String(), "\n") {
				t.Fatalf("encoded frame must end with newline: %q", out.String())
			}
			if strings.Count(out.String(), "\n") != 1 {
				t.Fatalf("encoded frame must contain exactly one newline: %q", out.String())
			}

			var got any
			ok, err := Decode(&out, &got)
			if !ok || err != nil {
				t.Fatalf("Decode() = %v, %v", ok, err)
			}
			if !reflect.DeepEqual(got, tt.value) {
				t.Errorf("round trip = %#v, want %#v", got, tt.value)
			}
			if out.Len() != 0 {
				t.Errorf("expected buffer to be drained, %d bytes left", out.Len())
			}
		})
	}
}

func TestDecodeNeedsFullFrame(t *testing.T) {
	frame := []byte(`{"type":"REQUEST","id":"1"}` + "\n")

	var buf bytes.Buffer
	for i := 0; i < len(frame)-1; i++ {
		buf.WriteByte(frame[i])

		var msg Message
		ok, err := Decode(&buf, &msg)
		if ok || err != nil {
			t.Fatalf("Decode() after %d bytes = %v, %v; want need more data", i+1, ok, err)
		}
		if buf.Len() != i+1 {
			t.Fatalf("Decode() consumed bytes before a full frame")
		}
	}

	buf.WriteByte('\n')
	var msg Message
	ok, err := Decode(&buf, &msg)
	if !ok || err != nil {
		t.Fatalf("Decode() = %v, %v", ok, err)
	}
	if msg.Type != MessageTypeRequest || msg.ID != "1" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "invalid json", input: "{not json}\n"},
		{name: "empty line", input: "\n"},
		{name: "invalid utf8", input: "\"\xff\xfe\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := bytes.NewBufferString(tt.input + `{"ok":true}` + "\n")

			var v any
			ok, err := Decode(buf, &v)
			if !ok {
				t.Fatal("expected a complete frame")
			}
			if !errdefs.IsSerialization(err) {
				t.Fatalf("expected serialization error, got %v", err)
			}

			// The bad line is consumed; the next frame is intact.
			var next map[string]bool
			ok, err = Decode(buf, &next)
			if !ok || err != nil {
				t.Fatalf("Decode() after resync = %v, %v", ok, err)
			}
			if !next["ok"] {
				t.Errorf("unexpected frame after resync: %v", next)
			}
		})
	}
}

// chunkReader returns at most n bytes per Read.
type chunkReader struct {
	data []byte
	n    int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.n
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestDecoderStream(t *testing.T) {
	var out bytes.Buffer
	enc := NewEncoder(&out)
	for _, id := range []string{"a", "b", "c"} {
		if err := enc.EncodeMessage(MessageTypeFrame, id, false, map[string]string{"id": id}); err != nil {
			t.Fatalf("EncodeMessage() error = %v", err)
		}
	}
	// Corrupt frame in the middle of the stream.
	raw := strings.Replace(out.String(), "\n", "\n{garbage\n", 1)

	dec := NewDecoder(&chunkReader{data: []byte(raw), n: 7})

	msg, err := dec.DecodeMessage()
	if err != nil || msg.ID != "a" {
		t.Fatalf("first message = %+v, %v", msg, err)
	}

	if _, err := dec.DecodeMessage(); !errdefs.IsSerialization(err) {
		t.Fatalf("expected serialization error for garbage frame, got %v", err)
	}

	for _, want := range []string{"b", "c"} {
		msg, err := dec.DecodeMessage()
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}
		if msg.ID != want {
			t.Errorf("got id %q, want %q", msg.ID, want)
		}
		var data map[string]string
		if err := msg.ParseData(&data); err != nil {
			t.Fatalf("ParseData() error = %v", err)
		}
		if data["id"] != want {
			t.Errorf("data id = %q, want %q", data["id"], want)
		}
	}

	if _, err := dec.DecodeMessage(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestDecoderUnexpectedEOF(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"type":"REQ`))

	var v any
	if err := dec.Decode(&v); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestDecodeMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid", input: `{"type":"CANCEL","id":"x"}`, wantErr: false},
		{name: "unknown type", input: `{"type":"PING","id":"x"}`, wantErr: true},
		{name: "missing id", input: `{"type":"REQUEST"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tt.input + "\n"))
			_, err := dec.DecodeMessage()
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncodeError(t *testing.T) {
	var out bytes.Buffer
	if err := NewEncoder(&out).EncodeError("req-1", errdefs.KindRemote, "boom"); err != nil {
		t.Fatalf("EncodeError() error = %v", err)
	}

	var msg Message
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &msg); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if msg.Type != MessageTypeError || msg.ID != "req-1" {
		t.Errorf("unexpected envelope: %+v", msg)
	}

	var data ErrorData
	if err := msg.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if data.Kind != "remote" || data.Message != "boom" {
		t.Errorf("unexpected error data: %+v", data)
	}
}

func TestDecoderFrameSizeLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "at limit", size: MaxFrameSize},
		{name: "just over limit", size: MaxFrameSize + 10, wantErr: true},
		{name: "over limit across chunks", size: MaxFrameSize + 100000, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A JSON string literal of exactly tt.size bytes.
			line := `"` + strings.Repeat("x", tt.size-2) + `"`
			raw := line + "\n" + `{"next":true}` + "\n"
			dec := NewDecoder(strings.NewReader(raw))

			var v any
			err := dec.Decode(&v)
			if tt.wantErr {
				if !errdefs.IsSerialization(err) || !errors.Is(err, ErrFrameTooLarge) {
					t.Fatalf("Decode() error = %v, want ErrFrameTooLarge", err)
				}
			} else if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			var next map[string]bool
			if err := dec.Decode(&next); err != nil {
				t.Fatalf("Decode() after large frame error = %v", err)
			}
			if !next["next"] {
				t.Errorf("got %v, want the frame following the large one", next)
			}
		})
	}
}
