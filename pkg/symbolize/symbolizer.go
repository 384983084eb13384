// Package symbolize resolves kernel and user-space instruction addresses to
// function names, module offsets and source locations.
package symbolize

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aquasecurity/libbpfgo/helpers"
	"github.com/google/pprof/profile"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	procfs         = "/proc"
	deletedSuffix  = " (deleted)"
	pseudoFilePref = "["
)

// Symbolizer resolves addresses of a Source. It keeps the kernel symbol
// table and the recently used ELF images across calls.
type Symbolizer struct {
	*Options

	mu     sync.Mutex
	kernel *kernelSymbols
	images *imageCache
}

func New(opts ...Option) (*Symbolizer, error) {
	s := &Symbolizer{
		Options: &Options{
			kallsymsPath:   KallsymsPath,
			vmlinuxDir:     VmlinuxDebugDir,
			imageCacheSize: DefaultImageCacheSize,
			demangle:       true,
			logger:         log.Nop(),
		},
	}
	for _, f := range opts {
		f(s.Options)
	}

	images, err := newImageCache(s.imageCacheSize)
	if err != nil {
		return nil, err
	}
	s.images = images

	return s, nil
}

// Resolve returns one entry per address, in the same order. A nil entry means
// that no symbol was found for the address, while an error means that none
// of the addresses could be resolved. The caller must Release the result.
func (s *Symbolizer) Resolve(src Source, addrs []uint64) (*Symbols, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch src.Kind {
	case SourceKernel:
		return s.resolveKernel(addrs)
	case SourceProcess:
		return s.resolveProcess(src.Pid, addrs)
	default:
		return nil, errors.Wrap(ErrUnsupportedSource, src.String())
	}
}

func (s *Symbolizer) resolveKernel(addrs []uint64) (*Symbols, error) {
	// A failed load is retried on the next call.
	if s.kernel == nil {
		ks, err := loadKallsyms(s.kallsymsPath)
		if err != nil {
			return nil, err
		}
		if path, explicit := s.vmlinux(); path != "" {
			if err := ks.withVmlinux(path); err != nil {
				ev := s.logger.Debug()
				if explicit {
					ev = s.logger.Warn()
				}
				ev.Err(err).Msg("kernel source locations disabled")
			}
		}
		s.kernel = ks
	}

	out := newSymbols(len(addrs))
	for i, addr := range addrs {
		out.syms[i] = s.kernel.symbolize(addr)
	}

	return out, nil
}

func (s *Symbolizer) resolveProcess(pid uint32, addrs []uint64) (*Symbols, error) {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up process %d", pid)
	}
	if !exists {
		return nil, errors.Wrapf(ErrNoProcess, "pid %d", pid)
	}

	f, err := os.Open(filepath.Join(procfs, strconv.FormatUint(uint64(pid), 10), "maps"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNoProcess, "pid %d", pid)
		}
		return nil, errors.Wrapf(err, "failed to open memory maps of process %d", pid)
	}
	defer f.Close()

	mappings, err := profile.ParseProcMaps(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse memory maps of process %d", pid)
	}

	// Stack addresses mostly fall in a handful of mappings.
	images := make(map[*profile.Mapping]*image)

	out := newSymbols(len(addrs))
	for i, addr := range addrs {
		m := findMapping(mappings, addr)
		if m == nil || m.File == "" || strings.HasPrefix(m.File, pseudoFilePref) {
			continue
		}

		im, ok := images[m]
		if !ok {
			im, err = s.images.get(imagePath(pid, m.File))
			if err != nil {
				s.logger.Debug().Err(err).Uint32("pid", pid).Str("file", m.File).Msg("skipping mapping")
			}
			images[m] = im
		}
		if im == nil {
			continue
		}

		sym := im.symbolize(addr, addr-m.Start+m.Offset, s.demangle)
		if sym != nil {
			sym.Module = m.File
		}
		out.syms[i] = sym
	}

	return out, nil
}

// vmlinux returns the vmlinux image to read kernel debug info from: the
// configured one, or else the one that distribution debug packages install
// for the running kernel, if present.
func (s *Symbolizer) vmlinux() (path string, explicit bool) {
	if s.vmlinuxPath != "" {
		return s.vmlinuxPath, true
	}

	release, err := helpers.UnameRelease()
	if err != nil {
		return "", false
	}
	path = filepath.Join(s.vmlinuxDir, "vmlinux-"+release)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}

	return path, false
}

// Close releases the cached images.
func (s *Symbolizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.images.purge()
	s.kernel = nil

	return nil
}

func findMapping(mappings []*profile.Mapping, addr uint64) *profile.Mapping {
	for _, m := range mappings {
		if addr >= m.Start && addr < m.Limit {
			return m
		}
	}
	return nil
}

// imagePath returns the path of file as seen from the mount namespace of
// the process.
func imagePath(pid uint32, file string) string {
	file = strings.TrimSuffix(file, deletedSuffix)
	return filepath.Join(procfs, strconv.FormatUint(uint64(pid), 10), "root", file)
}
