package capture

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mode selects the event that drives sampling.
type Mode int

const (
	// ModeHardware samples on CPU cycles.
	ModeHardware Mode = iota
	// ModeSoftware samples on the CPU wall clock.
	ModeSoftware
)

func (m Mode) String() string {
	if m == ModeSoftware {
		return "software"
	}
	return "hardware"
}

// Counter is a sampling counter bound to one CPU.
type Counter interface {
	FD() int
	Enable() error
	Close() error
}

// CounterOpener creates the counter of one CPU.
type CounterOpener interface {
	Open(cpu int, mode Mode, freq uint64) (Counter, error)
}

type perfCounter struct {
	fd int
}

func (c *perfCounter) FD() int {
	return c.fd
}

// Enable starts the counter, opened disabled until the program is attached.
func (c *perfCounter) Enable() error {
	return unix.IoctlSetInt(c.fd, unix.PERF_EVENT_IOC_ENABLE, 0)
}

func (c *perfCounter) Close() error {
	if c.fd < 0 {
		return nil
	}
	_ = unix.IoctlSetInt(c.fd, unix.PERF_EVENT_IOC_DISABLE, 0)
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

// PerfOpener opens perf_event counters for all the tasks running on a CPU.
type PerfOpener struct{}

func (PerfOpener) Open(cpu int, mode Mode, freq uint64) (Counter, error) {
	attr := &unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_HARDWARE,
		Config: unix.PERF_COUNT_HW_CPU_CYCLES,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		// With PerfBitFreq set the kernel adjusts the period to reach
		// Sample events per second.
		Sample: freq,
		Bits:   unix.PerfBitDisabled | unix.PerfBitFreq,
	}
	if mode == ModeSoftware {
		attr.Type = unix.PERF_TYPE_SOFTWARE
		attr.Config = unix.PERF_COUNT_SW_CPU_CLOCK
	}

	fd, err := unix.PerfEventOpen(attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		if mode == ModeHardware && (errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EOPNOTSUPP)) {
			return nil, errors.Wrapf(ErrHardwareUnsupported, "failed to open hardware perf event on cpu %d (%v)", cpu, err)
		}
		return nil, errors.Wrapf(err, "failed to open %s perf event on cpu %d", mode, cpu)
	}

	return &perfCounter{fd: fd}, nil
}
