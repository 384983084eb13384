package capture

import (
	log "github.com/rs/zerolog"
)

type Options struct {
	mode         Mode
	frequency    uint64
	possibleCPUs int
	opener       CounterOpener
	logger       log.Logger
}

type Option func(o *Options)

func WithMode(mode Mode) Option {
	return func(o *Options) {
		o.mode = mode
	}
}

// WithFrequency sets the sampling frequency in Hz, clamped to at least 1.
func WithFrequency(freq int) Option {
	return func(o *Options) {
		if freq < 1 {
			freq = 1
		}
		o.frequency = uint64(freq)
	}
}

// WithPossibleCPUs sets the arena size.
func WithPossibleCPUs(n int) Option {
	return func(o *Options) {
		o.possibleCPUs = n
	}
}

func WithCounterOpener(opener CounterOpener) Option {
	return func(o *Options) {
		o.opener = opener
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.logger = logger.With().Str("component", "capture").Logger()
	}
}
