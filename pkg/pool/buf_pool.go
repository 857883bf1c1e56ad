package pool

import "sync"

// bufPool holds reusable byte slices for UDP/TCP wire reads, sized to
// the largest EDNS0 UDP payload the server accepts.
var bufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 64*1024)
		return &b
	},
}

// Buffer is a pool-owned byte slice. The caller MUST call Release
// after use and MUST NOT retain b past that call.
type Buffer struct {
	b []byte
}

// Bytes returns the buffer's backing slice.
func (buf *Buffer) Bytes() []byte { return buf.b }

// Release returns the buffer to the pool.
func (buf *Buffer) Release() {
	bufPool.Put(&buf.b)
}

// GetBuf returns a Buffer of at least size bytes from the pool.
func GetBuf(size int) *Buffer {
	p := bufPool.Get().(*[]byte)
	b := *p
	if cap(b) < size {
		b = make([]byte, size)
	} else {
		b = b[:size]
	}
	return &Buffer{b: b}
}
