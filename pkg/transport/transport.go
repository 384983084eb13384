// Package transport delivers the raw records written by the capture program
// to the single user-space consumer, in production order.
package transport

import (
	"context"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("transport is closed")

// Reader blocks until the next raw record is available, the context is
// cancelled or the reader is closed. Once closed, Read returns ErrClosed.
type Reader interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Buffered is implemented by readers that stage records in user space.
type Buffered interface {
	Len() int
	Cap() int
}

// Utilization returns the percentage of the staging buffer in use, or 0 if
// the reader does not stage records.
func Utilization(r Reader) int {
	b, ok := r.(Buffered)
	if !ok || b.Cap() == 0 {
		return 0
	}
	return b.Len() * 100 / b.Cap()
}

// Kind selects the ring buffer consumer implementation.
type Kind string

const (
	// KindLibbpf polls the ring buffer from libbpf and hands records over a
	// channel.
	KindLibbpf Kind = "libbpf"
	// KindRingbuf reads the ring buffer directly, blocking in epoll.
	KindRingbuf Kind = "ringbuf"
)

var ErrUnknownKind = errors.New("unknown transport")

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindLibbpf, KindRingbuf:
		return k, nil
	default:
		return "", errors.Wrapf(ErrUnknownKind, "%q, expected %s or %s", s, KindLibbpf, KindRingbuf)
	}
}
