package probe

import (
	"embed"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf/rlimit"
	bpf "github.com/maxgio92/libbpfgo"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/maxgio92/stackprof/pkg/capture"
)

//go:embed output/*
var probeFS embed.FS

const (
	outputPath            = "output"
	ObjName               = "profile.bpf.o"
	ProgName              = "profile"
	EventsChBufSize       = 4096
	evtRingBufBPFMapName  = "events"
	evtRingBufPollTimeout = 300
)

// Probe is the capture program: it records kernel and user stacks into the
// events ring buffer on every perf event it is attached to.
type Probe struct {
	Name string
	data []byte

	bpfMod  *bpf.Module
	bpfProg *bpf.BPFProg

	EvtBuf *bpf.RingBuffer

	objPath string
	logger  log.Logger
}

type Option func(p *Probe)

func WithLogger(logger log.Logger) Option {
	return func(p *Probe) {
		p.logger = logger.With().Str("component", "probe").Logger()
	}
}

// WithObjPath loads the BPF object from the filesystem instead of the
// embedded one.
func WithObjPath(path string) Option {
	return func(p *Probe) {
		p.objPath = path
	}
}

func NewProbe(opts ...Option) *Probe {
	p := &Probe{Name: ProgName, logger: log.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Probe) read() ([]byte, error) {
	if p.objPath != "" {
		return os.ReadFile(p.objPath)
	}
	data, err := probeFS.ReadFile(filepath.Join(outputPath, ObjName))
	if err != nil {
		return nil, errors.Wrap(err, "no embedded bpf object: build it with make or pass --bpf-object")
	}
	return data, nil
}

func (p *Probe) Data() []byte {
	return p.data
}

// Init reads and loads the BPF object.
func (p *Probe) Init() error {
	p.configureBPFLogger()

	if err := rlimit.RemoveMemlock(); err != nil {
		p.logger.Debug().Err(err).Msg("failed to remove memlock rlimit")
	}

	var err error
	p.data, err = p.read()
	if err != nil {
		return errors.Wrap(err, "error reading bpf program file")
	}

	p.bpfMod, err = bpf.NewModuleFromBuffer(p.Data(), ObjName)
	if err != nil {
		return errors.Wrapf(err, "failed to load bpf module: %s", p.Name)
	}

	if err := p.bpfMod.BPFLoadObject(); err != nil {
		p.bpfMod.Close()
		p.bpfMod = nil
		return errors.Wrapf(err, "failed to load bpf module %s", p.Name)
	}

	p.bpfProg, err = p.bpfMod.GetProgram(p.Name)
	if err != nil {
		p.bpfMod.Close()
		p.bpfMod = nil
		return errors.Wrapf(err, "failed to get bpf program: %s", p.Name)
	}

	return nil
}

func (p *Probe) configureBPFLogger() {
	bpf.SetLoggerCbs(bpf.Callbacks{
		Log: func(level int, msg string) {
			if level <= bpf.LibbpfWarnLevel {
				p.logger.Debug().Msgf("libbpf: %s", msg)
			}
		},
	})
}

// AttachPerfEvent attaches the capture program to the perf event fd.
// libbpf closes the perf event fd when the link is destroyed, so the link
// gets a duplicate and the caller keeps ownership of fd.
func (p *Probe) AttachPerfEvent(fd int) (capture.Attachment, error) {
	if p.bpfProg == nil {
		return nil, ErrProbeNotLoaded
	}

	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to duplicate perf event fd")
	}

	link, err := p.bpfProg.AttachPerfEvent(dup)
	if err != nil {
		unix.Close(dup)
		return nil, errors.Wrapf(err, "error attaching %s to perf event", p.Name)
	}
	return link, nil
}

// InitEventBuf creates the libbpf ring buffer consumer of the events map,
// delivering raw samples on the returned channel.
func (p *Probe) InitEventBuf() (chan []byte, error) {
	if p.bpfMod == nil {
		return nil, ErrProbeNotLoaded
	}
	var err error

	events := make(chan []byte, EventsChBufSize)

	p.EvtBuf, err = p.bpfMod.InitRingBuf(evtRingBufBPFMapName, events)
	if err != nil {
		return nil, errors.Wrapf(err, "error initializing ring buffer %s", evtRingBufBPFMapName)
	}

	return events, nil
}

// PollEventBuf starts libbpf ring_buffer__poll() on the probe events ring
// buffer.
// PollEventBuf must be called after InitEventBuf.
// CGO goroutine thread-locked cannot use blocking operations like send
// to channel. Go runtime locks the goroutine to the thread when receiving
// the callback from C.
func (p *Probe) PollEventBuf() {
	p.EvtBuf.Poll(evtRingBufPollTimeout)
}

func (p *Probe) CloseEventBuf() {
	if p.EvtBuf != nil {
		p.EvtBuf.Close()
		p.EvtBuf = nil
	}
}

// EventsMapFD returns the file descriptor of the events ring buffer map.
func (p *Probe) EventsMapFD() (int, error) {
	if p.bpfMod == nil {
		return -1, ErrProbeNotLoaded
	}
	m, err := p.bpfMod.GetMap(evtRingBufBPFMapName)
	if err != nil {
		return -1, errors.Wrapf(err, "failed to get map %s", evtRingBufBPFMapName)
	}
	return m.FileDescriptor(), nil
}

// PossibleCPUs returns the number of possible CPUs.
func PossibleCPUs() (int, error) {
	n, err := bpf.NumPossibleCPUs()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get the number of possible cpus")
	}
	return n, nil
}

// Close releases the ring buffer and the BPF module.
func (p *Probe) Close() {
	p.CloseEventBuf()
	if p.bpfMod != nil {
		p.bpfMod.Close()
		p.bpfMod = nil
	}
}
