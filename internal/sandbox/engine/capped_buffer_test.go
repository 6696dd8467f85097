package engine

import "testing"

func TestCappedBufferTruncates(t *testing.T) {
	hits := 0
	buf := newCappedBuffer(5, func() { hits++ })

	if n, err := buf.Write([]byte("abc")); err != nil || n != 3 {
		t.Fatalf("unexpected write result: %d %v", n, err)
	}
	if n, err := buf.Write([]byte("defgh")); err != nil || n != 5 {
		t.Fatalf("overflowing write must report full length: %d %v", n, err)
	}
	if _, err := buf.Write([]byte("ij")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "abcde" {
		t.Fatalf("unexpected content: %q", buf.String())
	}
	if !buf.Truncated() {
		t.Fatalf("expected truncated flag")
	}
	if hits == 0 {
		t.Fatalf("expected limit callback")
	}
}

func TestCappedBufferUnlimited(t *testing.T) {
	buf := newCappedBuffer(0, nil)
	_, _ = buf.Write([]byte("hello"))
	if buf.String() != "hello" || buf.Truncated() {
		t.Fatalf("unexpected state: %q %v", buf.String(), buf.Truncated())
	}
}

func TestCappedBufferExactFit(t *testing.T) {
	buf := newCappedBuffer(4, nil)
	_, _ = buf.Write([]byte("abcd"))
	if buf.Truncated() {
		t.Fatalf("exact fit must not be truncated")
	}
}
