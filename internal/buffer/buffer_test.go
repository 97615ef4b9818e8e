package buffer

import (
	"bytes"
	"io"
	"testing"
)

func readerFor(data []byte) Reader {
	r := bytes.NewReader(data)
	return func(buf []byte) (int, error) {
		return r.Read(buf)
	}
}

func TestGrowAndReadSlice(t *testing.T) {
	s := New()
	if err := s.Grow(readerFor([]byte("hello world")), 5); err != nil {
		t.Fatal(err)
	}
	if s.Size() < 5 {
		t.Fatalf("expected at least 5 bytes buffered, got %d", s.Size())
	}
	got, err := s.ReadSlice(5)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestReadSliceFailsShort(t *testing.T) {
	s := New()
	s.Grow(readerFor([]byte("ab")), 2)
	if _, err := s.ReadSlice(10); err == nil {
		t.Fatal("expected short-buffer error")
	}
}

func TestGrowPropagatesEOF(t *testing.T) {
	s := New()
	err := s.Grow(readerFor([]byte("ab")), 10)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestCompactReclaimsSpace(t *testing.T) {
	s := New()
	data := bytes.Repeat([]byte("x"), 4096)
	if err := s.Grow(readerFor(data), 4096); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadSlice(4000); err != nil {
		t.Fatal(err)
	}
	more := bytes.Repeat([]byte("y"), 4096)
	if err := s.Grow(readerFor(more), 4096); err != nil {
		t.Fatal(err)
	}
	if s.Size() < 4096 {
		t.Fatalf("expected buffered bytes after growth, got %d", s.Size())
	}
}
