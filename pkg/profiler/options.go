package profiler

import (
	"io"

	log "github.com/rs/zerolog"

	"github.com/maxgio92/stackprof/pkg/capture"
	"github.com/maxgio92/stackprof/pkg/transport"
)

type Options struct {
	frequency  int
	mode       capture.Mode
	transport  transport.Kind
	bpfObjPath string
	vmlinux    string

	status       bool
	healthSocket string

	writer io.Writer
	logger log.Logger
}

type Option func(o *Options)

// WithFrequency sets the per-cpu sampling frequency in Hz, clamped to at
// least 1.
func WithFrequency(freq int) Option {
	return func(o *Options) {
		if freq < 1 {
			freq = 1
		}
		o.frequency = freq
	}
}

func WithMode(mode capture.Mode) Option {
	return func(o *Options) {
		o.mode = mode
	}
}

func WithTransport(kind transport.Kind) Option {
	return func(o *Options) {
		o.transport = kind
	}
}

func WithBPFObjPath(path string) Option {
	return func(o *Options) {
		o.bpfObjPath = path
	}
}

func WithVmlinux(path string) Option {
	return func(o *Options) {
		o.vmlinux = path
	}
}

// WithStatus prints a status line on stderr every second.
func WithStatus(status bool) Option {
	return func(o *Options) {
		o.status = status
	}
}

// WithHealthSocket serves readiness on the unix socket at path.
func WithHealthSocket(path string) Option {
	return func(o *Options) {
		o.healthSocket = path
	}
}

// WithWriter sets where profiles are written, stdout by default.
func WithWriter(w io.Writer) Option {
	return func(o *Options) {
		o.writer = w
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}
