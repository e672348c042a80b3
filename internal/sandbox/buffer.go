package sandbox

import (
	"bytes"
	"sync"
)

// LimitedBuffer is an io.Writer that keeps only the first Limit bytes written
// to it. It is used for worker stderr, which is diagnostic only.
type LimitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func NewLimitedBuffer(limit int) *LimitedBuffer {
	if limit <= 0 {
		limit = 4096
	}
	return &LimitedBuffer{limit: limit}
}

// Write never fails; excess bytes are discarded but reported as written so the
// producer is not disturbed.
func (b *LimitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *LimitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
