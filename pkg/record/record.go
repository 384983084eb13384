// Package record describes the stack sample record written by the capture
// program into the events ring buffer.
package record

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/maxgio92/stackprof/internal/utils"
)

const (
	TaskCommLen = 16

	// MaxStackDepth is the number of frames per stack the capture program
	// can record. It must match MAX_STACK_DEPTH in bpf/profile.h.
	MaxStackDepth = 128

	frameSize = 8
)

// StackTrace is an array of instruction pointers (IP).
type StackTrace [MaxStackDepth]uint64

// Event is one sampled stack. Field order and sizes are the binary contract
// with struct stacktrace_event.
type Event struct {
	Pid uint32
	CPU uint32

	Comm [TaskCommLen]byte

	// KStackSize and UStackSize are byte sizes as returned by bpf_get_stack,
	// negative on error.
	KStackSize int32
	UStackSize int32

	KStack StackTrace
	UStack StackTrace
}

// Size is the encoded size of an Event.
var Size = binary.Size(Event{})

var ErrShortRecord = errors.New("record is shorter than a stack event")

// Decode reads an Event from a raw ring buffer sample.
func Decode(data []byte) (*Event, error) {
	if len(data) < Size {
		return nil, errors.Wrapf(ErrShortRecord, "got %d bytes, want %d", len(data), Size)
	}

	evt := new(Event)
	if err := binary.Read(bytes.NewReader(data[:Size]), binary.LittleEndian, evt); err != nil {
		return nil, errors.Wrap(err, "failed to decode stack event")
	}

	return evt, nil
}

// Empty reports whether the event carries neither kernel nor user frames.
func (e *Event) Empty() bool {
	return e.KStackSize <= 0 && e.UStackSize <= 0
}

func (e *Event) KernelFrames() []uint64 {
	return frames(&e.KStack, e.KStackSize)
}

func (e *Event) UserFrames() []uint64 {
	return frames(&e.UStack, e.UStackSize)
}

func (e *Event) CommString() string {
	return utils.CleanComm(e.Comm[:])
}

func frames(stack *StackTrace, size int32) []uint64 {
	if size <= 0 {
		return nil
	}
	n := int(size) / frameSize
	if n > MaxStackDepth {
		n = MaxStackDepth
	}
	return stack[:n]
}
