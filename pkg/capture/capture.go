// Package capture owns the per-CPU sampling counters and the attachments of
// the capture program to them.
package capture

import (
	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/stackprof/pkg/cpu"
)

// Attachment is the link between the capture program and one counter.
type Attachment interface {
	Destroy() error
}

// Attacher attaches the capture program to a perf event file descriptor.
type Attacher interface {
	AttachPerfEvent(fd int) (Attachment, error)
}

// Source is the capture source of one CPU.
type Source struct {
	CPU int

	counter Counter
	link    Attachment
}

// Sources is an arena of capture sources indexed by CPU id. Only slots of
// online CPUs are populated.
type Sources struct {
	slots []*Source
	*Options
}

// Open creates one counter per online CPU and attaches the program to each
// of them. On any failure the sources already created are released.
func Open(online cpu.Mask, attacher Attacher, opts ...Option) (*Sources, error) {
	s := &Sources{
		Options: &Options{
			mode:      ModeHardware,
			frequency: 1,
			opener:    PerfOpener{},
			logger:    log.Nop(),
		},
	}
	for _, opt := range opts {
		opt(s.Options)
	}
	if attacher == nil {
		return nil, ErrAttacherNil
	}
	ids := online.IDs()
	if len(ids) == 0 {
		return nil, ErrNoOnlineCPUs
	}

	size := s.possibleCPUs
	if size <= 0 {
		size = len(online)
	}
	s.slots = make([]*Source, size)

	for _, id := range ids {
		if id >= size {
			s.Close()
			return nil, errors.Wrapf(ErrCPUOutOfRange, "cpu %d, possible %d", id, size)
		}
		src, err := s.open(id, attacher)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.slots[id] = src
	}
	s.logger.Debug().
		Int("sources", len(ids)).
		Str("mode", s.mode.String()).
		Uint64("frequency", s.frequency).
		Msg("capture sources attached")

	return s, nil
}

func (s *Sources) open(id int, attacher Attacher) (*Source, error) {
	counter, err := s.opener.Open(id, s.mode, s.frequency)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to set up performance monitor on cpu %d", id)
	}

	link, err := attacher.AttachPerfEvent(counter.FD())
	if err != nil {
		counter.Close()
		return nil, errors.Wrapf(err, "failed to attach capture program on cpu %d", id)
	}

	src := &Source{CPU: id, counter: counter, link: link}
	if err := counter.Enable(); err != nil {
		src.close(s.logger)
		return nil, errors.Wrapf(err, "failed to enable performance monitor on cpu %d", id)
	}

	return src, nil
}

// Active returns the CPU ids with an attached source.
func (s *Sources) Active() []int {
	var ids []int
	for id, src := range s.slots {
		if src != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Close detaches the program and closes the counters. It is safe to call
// more than once.
func (s *Sources) Close() error {
	var first error
	for id, src := range s.slots {
		if src == nil {
			continue
		}
		if err := src.close(s.logger); err != nil && first == nil {
			first = err
		}
		s.slots[id] = nil
	}
	return first
}

func (src *Source) close(logger log.Logger) error {
	var first error
	if src.link != nil {
		if err := src.link.Destroy(); err != nil {
			logger.Warn().Err(err).Int("cpu", src.CPU).Msg("failed to destroy capture program link")
			first = err
		}
	}
	if src.counter != nil {
		if err := src.counter.Close(); err != nil {
			logger.Warn().Err(err).Int("cpu", src.CPU).Msg("failed to close performance monitor")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
