package capture

import (
	"io"
	"sync"
)

// ChannelWriter hands written chunks to a consumer goroutine so network reads
// never wait on disk writes.
type ChannelWriter struct {
	sync.Mutex
	dataChan chan []byte
	closed   bool
}

func NewChannelWriter(depth int) *ChannelWriter {
	return &ChannelWriter{
		dataChan: make(chan []byte, depth),
	}
}

// Write copies p, since callers such as io.Copy reuse their buffer.
func (cw *ChannelWriter) Write(p []byte) (n int, err error) {
	cw.Lock()
	defer cw.Unlock()

	if cw.closed {
		return 0, io.ErrClosedPipe
	}

	b := make([]byte, len(p))
	copy(b, p)
	cw.dataChan <- b

	return len(p), nil
}

// C returns the channel chunks are delivered on. It is closed by Close.
func (cw *ChannelWriter) C() <-chan []byte {
	return cw.dataChan
}

func (cw *ChannelWriter) Close() error {
	cw.Lock()
	defer cw.Unlock()

	if !cw.closed {
		close(cw.dataChan)
		cw.closed = true
	}

	return nil
}
