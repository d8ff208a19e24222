package chunkfile

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriteReadChunkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := Chunk{
		Record: Record{Type: IndexType, Major: IndexMajorVersion, Minor: IndexMinorVersion},
		Header: []byte("header-bytes"),
		Data:   []byte("payload-bytes-here"),
	}
	if _, err := WriteChunk(&buf, c); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	got, err := ReadChunk(&buf, Record{Type: IndexType, Major: IndexMajorVersion})
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if !bytes.Equal(got.Header, c.Header) || !bytes.Equal(got.Data, c.Data) {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestReadChunkRejectsUnrecognizedType(t *testing.T) {
	var buf bytes.Buffer
	c := Chunk{Record: Record{Type: 0xdeadbeef, Major: 9}, Data: []byte("x")}
	if _, err := WriteChunk(&buf, c); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	_, err := ReadChunk(&buf, Record{Type: IndexType, Major: IndexMajorVersion})
	if !errors.Is(err, ErrUnrecognizedChunk) {
		t.Fatalf("expected ErrUnrecognizedChunk, got %v", err)
	}
}

func TestReadChunkAtOffset(t *testing.T) {
	var buf bytes.Buffer
	first := Chunk{Record: Record{Type: IndexType, Major: 1}, Data: []byte("first")}
	second := Chunk{Record: Record{Type: IndexType, Major: 1}, Data: []byte("second-chunk-data")}

	n1, err := WriteChunk(&buf, first)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := WriteChunk(&buf, second); err != nil {
		t.Fatal(err)
	}

	ra := bytes.NewReader(buf.Bytes())
	got, err := ReadChunkAt(ra, n1)
	if err != nil {
		t.Fatalf("ReadChunkAt: %v", err)
	}
	if !bytes.Equal(got.Data, second.Data) {
		t.Fatalf("expected second chunk's data, got %q", got.Data)
	}
}
