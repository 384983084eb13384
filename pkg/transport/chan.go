package transport

import (
	"context"
	"sync"
)

// ChanReader reads records from a channel fed by a ring buffer poller, as
// libbpfgo does.
type ChanReader struct {
	ch      <-chan []byte
	done    chan struct{}
	once    sync.Once
	onClose func()
}

// NewChanReader returns a reader of ch. onClose, if not nil, is called once
// on Close to stop the producer.
func NewChanReader(ch <-chan []byte, onClose func()) *ChanReader {
	return &ChanReader{
		ch:      ch,
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (r *ChanReader) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, ErrClosed
	case data, ok := <-r.ch:
		if !ok {
			return nil, ErrClosed
		}
		return data, nil
	}
}

func (r *ChanReader) Close() error {
	r.once.Do(func() {
		close(r.done)
		if r.onClose != nil {
			r.onClose()
		}
	})
	return nil
}

func (r *ChanReader) Len() int {
	return len(r.ch)
}

func (r *ChanReader) Cap() int {
	return cap(r.ch)
}
