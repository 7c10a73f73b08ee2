package file

import (
	"io"
	"sync"
	"sync/atomic"
)

// CountingReader reports the cumulative number of bytes read through it.
// The callback runs on the reading goroutine after every successful Read.
// Counters are safe to query from other goroutines: an HTTP transport may
// still be draining the body after the request returned.
type CountingReader struct {
	r      io.Reader
	read   atomic.Int64
	onRead func(total int64)

	mu  sync.Mutex
	err error
}

// NewCountingReader wraps r. onRead may be nil.
func NewCountingReader(r io.Reader, onRead func(total int64)) *CountingReader {
	return &CountingReader{r: r, onRead: onRead}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil && err != io.EOF {
		c.mu.Lock()
		if c.err == nil {
			c.err = err
		}
		c.mu.Unlock()
	}
	if n > 0 {
		total := c.read.Add(int64(n))
		if c.onRead != nil {
			c.onRead(total)
		}
	}
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (c *CountingReader) BytesRead() int64 {
	return c.read.Load()
}

// Err returns the first read error other than io.EOF, if any.
func (c *CountingReader) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
