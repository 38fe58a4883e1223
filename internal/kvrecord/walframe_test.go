package kvrecord

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWALFrameEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame WALFrame
	}{
		{"put", WALFrame{Op: OpPut, Key: "a", Value: []byte("b"), Timestamp: 1}},
		{"delete", WALFrame{Op: OpDelete, Key: "a", Timestamp: 2}},
		{"put empty value", WALFrame{Op: OpPut, Key: "a", Value: []byte{}, Timestamp: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tt.frame.Encode(&buf); err != nil {
				t.Fatalf("encode: %v", err)
			}
			if buf.Len() != tt.frame.Size() {
				t.Fatalf("Size() = %d, encoded %d bytes", tt.frame.Size(), buf.Len())
			}

			got, err := DecodeWALFrame(&buf)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			if got.Op != tt.frame.Op || got.Key != tt.frame.Key || got.Timestamp != tt.frame.Timestamp {
				t.Fatalf("mismatch: got %+v want %+v", got, tt.frame)
			}
			if !bytes.Equal(got.Value, tt.frame.Value) && !(len(got.Value) == 0 && len(tt.frame.Value) == 0) {
				t.Fatalf("value mismatch: got %v want %v", got.Value, tt.frame.Value)
			}
		})
	}
}

func TestWALFrameStreamStopsAtTruncatedTail(t *testing.T) {
	var buf bytes.Buffer
	f1 := WALFrame{Op: OpPut, Key: "a", Value: []byte("1"), Timestamp: 1}
	f2 := WALFrame{Op: OpPut, Key: "b", Value: []byte("2"), Timestamp: 2}
	if err := f1.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if err := f2.Encode(&buf); err != nil {
		t.Fatal(err)
	}

	full := buf.Bytes()
	truncated := full[:len(full)-2] // cut into the last frame's timestamp

	r := bytes.NewReader(truncated)

	got1, err := DecodeWALFrame(r)
	if err != nil {
		t.Fatalf("first frame should decode cleanly: %v", err)
	}
	if got1.Key != "a" {
		t.Fatalf("got key %q want a", got1.Key)
	}

	_, err = DecodeWALFrame(r)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF at truncated tail, got %v", err)
	}
}

func TestWALFrameCleanEOF(t *testing.T) {
	_, err := DecodeWALFrame(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
