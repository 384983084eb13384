package transport

import (
	"context"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// RingbufReader reads records straight from a BPF ring buffer map, blocking
// in epoll with no timeout.
type RingbufReader struct {
	m    *ebpf.Map
	rd   *ringbuf.Reader
	once sync.Once
}

// NewRingbufReader opens a reader on the ring buffer map referred to by fd.
// The descriptor is duplicated, the caller keeps ownership of fd.
func NewRingbufReader(fd int) (*RingbufReader, error) {
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to duplicate ring buffer map fd")
	}

	m, err := ebpf.NewMapFromFD(dup)
	if err != nil {
		unix.Close(dup)
		return nil, errors.Wrap(err, "failed to open ring buffer map")
	}

	rd, err := ringbuf.NewReader(m)
	if err != nil {
		m.Close()
		return nil, errors.Wrap(err, "failed to create ring buffer reader")
	}

	return &RingbufReader{m: m, rd: rd}, nil
}

func (r *RingbufReader) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	rec, err := r.rd.Read()
	if err != nil {
		if errors.Is(err, ringbuf.ErrClosed) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrClosed
		}
		return nil, errors.Wrap(err, "failed to read ring buffer")
	}

	return rec.RawSample, nil
}

func (r *RingbufReader) Close() error {
	var err error
	r.once.Do(func() {
		err = r.rd.Close()
		if cerr := r.m.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
