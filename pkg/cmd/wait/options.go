package wait

import (
	"time"

	"github.com/maxgio92/stackprof/pkg/cmd/options"
)

type Options struct {
	socketPath string
	timeout    time.Duration
	interval   time.Duration

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

// WithCommonOptions shares the options of the parent command.
func WithCommonOptions(common *options.CommonOptions) Option {
	return func(o *Options) {
		o.CommonOptions = common
	}
}
