package cmd

import (
	"context"

	log "github.com/rs/zerolog"

	"github.com/maxgio92/stackprof/pkg/cmd/options"
)

type Options struct {
	frequency    int
	swEvent      bool
	help         bool
	transport    string
	bpfObject    string
	vmlinux      string
	status       bool
	healthSocket string

	*options.CommonOptions
}

type Option func(o *Options)

func NewOptions(opts ...Option) *Options {
	o := new(Options)
	o.CommonOptions = new(options.CommonOptions)

	for _, f := range opts {
		f(o)
	}

	return o
}

func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Ctx = ctx
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// HelpRequested reports whether usage was printed instead of running.
func (o *Options) HelpRequested() bool {
	return o.help
}
