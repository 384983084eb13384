package symbolize

import (
	"debug/elf"
	"fmt"
	"sort"
	"sync"

	"github.com/elastic/go-freelru"
	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/maxgio92/stackprof/internal/utils"
)

// image is an ELF file mapped by one or more processes.
type image struct {
	path string
	file *elf.File
	syms []elf.Symbol

	debugOnce sync.Once
	debug     *debugInfo
}

func openImage(path string) (*image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open ELF file %s", path)
	}

	im := &image{
		path: path,
		file: f,
	}

	// Either table may be missing, stripped binaries only have dynsym.
	if syms, err := f.Symbols(); err == nil {
		im.syms = append(im.syms, funcSymbols(syms)...)
	}
	if syms, err := f.DynamicSymbols(); err == nil {
		im.syms = append(im.syms, funcSymbols(syms)...)
	}
	sort.Slice(im.syms, func(i, j int) bool {
		return im.syms[i].Value < im.syms[j].Value
	})

	return im, nil
}

func funcSymbols(syms []elf.Symbol) []elf.Symbol {
	out := make([]elf.Symbol, 0, len(syms))
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Name == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (im *image) close() error {
	return im.file.Close()
}

// vaddr translates a file offset into the virtual address the ELF file
// assigns to it.
func (im *image) vaddr(off uint64) (uint64, bool) {
	for _, p := range im.file.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if off >= p.Off && off < p.Off+p.Filesz {
			return off - p.Off + p.Vaddr, true
		}
	}
	return 0, false
}

// lookup returns the function symbol containing vaddr.
func (im *image) lookup(vaddr uint64) (elf.Symbol, bool) {
	i := sort.Search(len(im.syms), func(i int) bool {
		return im.syms[i].Value > vaddr
	}) - 1
	if i < 0 {
		return elf.Symbol{}, false
	}

	s := im.syms[i]
	if s.Size > 0 {
		return s, vaddr < s.Value+s.Size
	}
	// Sizeless symbols extend up to the next one.
	return s, i+1 < len(im.syms)
}

func (im *image) debugInfo() *debugInfo {
	im.debugOnce.Do(func() {
		data, err := im.file.DWARF()
		if err != nil {
			return
		}
		im.debug = newDebugInfo(data)
	})
	return im.debug
}

// symbolize resolves the address addr, mapped at file offset off of the
// image.
func (im *image) symbolize(addr, off uint64, demangleNames bool) *Symbol {
	vaddr, ok := im.vaddr(off)
	if !ok {
		return nil
	}

	var sym *Symbol
	if s, ok := im.lookup(vaddr); ok {
		sym = &Symbol{
			Name:   s.Name,
			Module: im.path,
			Addr:   addr - (vaddr - s.Value),
			Offset: vaddr - s.Value,
		}
	}

	if d := im.debugInfo(); d != nil {
		if f, err := d.frame(vaddr); err == nil && f != nil {
			if sym == nil {
				if f.name == "" {
					return nil
				}
				// No ELF symbol, the offset from the function start is
				// unknown.
				sym = &Symbol{Name: f.name, Module: im.path, Addr: addr}
			}
			sym.CodeInfo = f.codeInfo
			sym.Inlined = f.inlined
		}
	}

	if sym != nil && demangleNames {
		sym.Name = demangle.Filter(sym.Name)
		for i := range sym.Inlined {
			sym.Inlined[i].Name = demangle.Filter(sym.Inlined[i].Name)
		}
	}

	return sym
}

// imageCache keeps the most recently used images open.
type imageCache struct {
	lru *freelru.LRU[string, *image]
}

func newImageCache(size uint32) (*imageCache, error) {
	lru, err := freelru.New[string, *image](size, utils.Hash)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create image cache")
	}
	lru.SetOnEvict(func(_ string, im *image) {
		im.close()
	})

	return &imageCache{lru: lru}, nil
}

// get returns the image at path, opening it on miss. Images are keyed by
// file identity rather than path, so that a library mapped by many processes
// is parsed once, and by size and modification time so that a file rewritten
// in place is reopened.
func (c *imageCache) get(path string) (*image, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	key := fmt.Sprintf("%d:%d:%d:%d.%d", st.Dev, st.Ino, st.Size, st.Mtim.Sec, st.Mtim.Nsec)

	if im, ok := c.lru.Get(key); ok {
		return im, nil
	}

	im, err := openImage(path)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, im)

	return im, nil
}

func (c *imageCache) purge() {
	for _, key := range c.lru.Keys() {
		if im, ok := c.lru.Peek(key); ok {
			im.close()
		}
	}
	c.lru.Purge()
}
