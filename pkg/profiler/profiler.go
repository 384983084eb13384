// Package profiler wires the sampling pipeline: per-cpu capture sources feed
// stack traces through the events ring buffer to a single consumer that
// symbolizes and prints them.
package profiler

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/maxgio92/stackprof/internal/output"
	"github.com/maxgio92/stackprof/pkg/capture"
	"github.com/maxgio92/stackprof/pkg/cpu"
	"github.com/maxgio92/stackprof/pkg/healthcheck"
	"github.com/maxgio92/stackprof/pkg/probe"
	"github.com/maxgio92/stackprof/pkg/record"
	"github.com/maxgio92/stackprof/pkg/report"
	"github.com/maxgio92/stackprof/pkg/symbolize"
	"github.com/maxgio92/stackprof/pkg/transport"
)

const statusRefreshRate = time.Second

type Profiler struct {
	*Options

	probe      *probe.Probe
	sources    *capture.Sources
	symbolizer *symbolize.Symbolizer
	health     *healthcheck.Server

	reader   transport.Reader
	resolver report.Resolver
	reporter *report.Reporter

	// Status counters, the rate is reset at every status refresh.
	consumed atomic.Uint64
	skipped  atomic.Uint64
	failed   atomic.Uint64
}

func NewProfiler(opts ...Option) *Profiler {
	p := &Profiler{
		Options: &Options{
			frequency: 1,
			mode:      capture.ModeHardware,
			transport: transport.KindLibbpf,
			writer:    os.Stdout,
			logger:    log.Nop(),
		},
	}
	for _, f := range opts {
		f(p.Options)
	}
	p.reporter = report.NewReporter(report.WithWriter(p.writer))

	return p
}

// Run sets up the pipeline and consumes events until ctx is done. Every
// resource acquired is released before returning, whatever the outcome.
func (p *Profiler) Run(ctx context.Context) error {
	defer p.teardown()

	if err := p.init(ctx); err != nil {
		return err
	}

	p.logger.Info().
		Ints("cpus", p.sources.Active()).
		Int("frequency", p.frequency).
		Stringer("mode", p.mode).
		Str("transport", string(p.transport)).
		Msg("profiling")

	return p.consume(ctx)
}

func (p *Profiler) init(ctx context.Context) error {
	online, err := cpu.ReadOnline()
	if err != nil {
		return errors.Wrap(err, "failed to get online cpus")
	}

	possible, err := probe.PossibleCPUs()
	if err != nil {
		return err
	}

	p.probe = probe.NewProbe(probe.WithLogger(p.logger), probe.WithObjPath(p.bpfObjPath))
	if err := p.probe.Init(); err != nil {
		return errors.Wrap(err, "failed to load the capture program")
	}

	p.symbolizer, err = symbolize.New(
		symbolize.WithVmlinux(p.vmlinux),
		symbolize.WithLogger(p.logger),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create the symbolizer")
	}
	p.resolver = p.symbolizer

	p.reader, err = p.openTransport()
	if err != nil {
		return errors.Wrap(err, "failed to open the events ring buffer")
	}

	p.sources, err = capture.Open(online, p.probe,
		capture.WithMode(p.mode),
		capture.WithFrequency(p.frequency),
		capture.WithPossibleCPUs(possible),
		capture.WithLogger(p.logger),
	)
	if err != nil {
		return errors.Wrap(err, "failed to set up sampling")
	}

	if p.healthSocket != "" {
		p.health = healthcheck.NewServer(p.healthSocket, p.logger)
		if err := p.health.Listen(ctx); err != nil {
			return err
		}
		p.health.NotifyReady()
	}

	return nil
}

func (p *Profiler) openTransport() (transport.Reader, error) {
	switch p.transport {
	case transport.KindRingbuf:
		fd, err := p.probe.EventsMapFD()
		if err != nil {
			return nil, err
		}
		r, err := transport.NewRingbufReader(fd)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		events, err := p.probe.InitEventBuf()
		if err != nil {
			return nil, err
		}
		p.probe.PollEventBuf()
		return transport.NewChanReader(events, p.probe.CloseEventBuf), nil
	}
}

// consume runs the consumer loop and, if enabled, the status line.
func (p *Profiler) consume(ctx context.Context) error {
	if p.reader == nil {
		return ErrNilReader
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return p.loop(ctx)
	})
	if p.status {
		g.Go(func() error {
			output.StatusBar(ctx, statusRefreshRate, p.printStatus)
			return nil
		})
	}

	return g.Wait()
}

// loop blocks on the reader and handles one record at a time, in arrival
// order. Cancellation is a clean shutdown.
func (p *Profiler) loop(ctx context.Context) error {
	for {
		data, err := p.reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				p.logger.Debug().Msg("stopped consuming events")
				return nil
			}
			return errors.Wrap(err, "failed to read events")
		}

		p.handleEvent(data)
	}
}

func (p *Profiler) handleEvent(data []byte) {
	ev, err := record.Decode(data)
	if err != nil {
		p.logger.Warn().Err(err).Msg("dropping malformed record")
		return
	}
	p.consumed.Add(1)

	if ev.Empty() {
		p.skipped.Add(1)
		return
	}

	if failed := p.reporter.PrintEvent(ev, p.resolver); failed > 0 {
		p.failed.Add(uint64(failed))
	}
}

func (p *Profiler) printStatus() {
	output.PrintRight(os.Stderr, output.PrettyProfileStatus(
		p.consumed.Swap(0),
		p.skipped.Load(),
		p.failed.Load(),
		transport.Utilization(p.reader),
	))
}

// teardown releases attachments and counters first so that nothing is
// produced anymore, then the consumer side.
func (p *Profiler) teardown() {
	if p.health != nil {
		if err := p.health.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("failed to close health check server")
		}
	}
	if p.sources != nil {
		if err := p.sources.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to close capture sources")
		}
	}
	if p.reader != nil {
		if err := p.reader.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("failed to close event reader")
		}
	}
	if p.probe != nil {
		p.probe.Close()
	}
	if p.symbolizer != nil {
		p.symbolizer.Close()
	}
}
