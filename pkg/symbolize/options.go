package symbolize

import (
	log "github.com/rs/zerolog"
)

const (
	KallsymsPath          = "/proc/kallsyms"
	DefaultImageCacheSize = 64

	// VmlinuxDebugDir holds vmlinux-<release> images with debug info.
	VmlinuxDebugDir = "/usr/lib/debug/boot"
)

type Options struct {
	kallsymsPath   string
	vmlinuxPath    string
	vmlinuxDir     string
	imageCacheSize uint32
	demangle       bool
	logger         log.Logger
}

type Option func(o *Options)

func WithKallsymsPath(path string) Option {
	return func(o *Options) {
		o.kallsymsPath = path
	}
}

// WithVmlinux sets the vmlinux image whose DWARF data gives source locations
// of kernel addresses. By default the image of the running kernel under
// VmlinuxDebugDir is used, if any.
func WithVmlinux(path string) Option {
	return func(o *Options) {
		o.vmlinuxPath = path
	}
}

// WithImageCacheSize sets the maximum number of ELF images kept open.
func WithImageCacheSize(size uint32) Option {
	return func(o *Options) {
		if size > 0 {
			o.imageCacheSize = size
		}
	}
}

func WithDemangle(enabled bool) Option {
	return func(o *Options) {
		o.demangle = enabled
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.logger = logger.With().Str("component", "symbolizer").Logger()
	}
}
