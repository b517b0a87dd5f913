package optimize

import (
	"testing"
)

func TestBytePool(t *testing.T) {
	pool := NewBytePool(1024)

	b := pool.Get()
	if len(b) != 1024 {
		t.Errorf("expected slice of len 1024, got %d", len(b))
	}
	pool.Put(b)

	b2 := pool.Get()
	if len(b2) != 1024 {
		t.Errorf("expected slice of len 1024 after reuse, got %d", len(b2))
	}
}

func TestBufferPool(t *testing.T) {
	pool := NewBufferPool()

	buf := pool.Get()
	buf.WriteString("hello")
	pool.Put(buf)

	buf2 := pool.Get()
	if buf2.Len() != 0 {
		t.Errorf("expected reset buffer, got len %d", buf2.Len())
	}
}
