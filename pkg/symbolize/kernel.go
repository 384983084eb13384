package symbolize

import (
	"bufio"
	"debug/elf"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	kernelModule    = "kernel"
	kernelTextStart = "_stext"
)

type kernelSymbol struct {
	addr   uint64
	name   string
	module string
}

// kernelSymbols is the kernel text symbol table, sorted by address.
type kernelSymbols struct {
	syms []kernelSymbol

	// Source locations from vmlinux, if any, and the difference between
	// the runtime and link time addresses.
	debug *debugInfo
	slide uint64
}

// parseKallsyms reads text symbols in the /proc/kallsyms format:
//
//	ffffffff81000000 T _stext
//	ffffffffc0a01000 t xfs_init_fs_context	[xfs]
func parseKallsyms(r io.Reader) (*kernelSymbols, error) {
	ks := &kernelSymbols{}
	nonZero := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		switch fields[1] {
		case "T", "t", "W", "w":
		default:
			continue
		}

		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		if addr != 0 {
			nonZero = true
		}

		sym := kernelSymbol{addr: addr, name: fields[2], module: kernelModule}
		if len(fields) > 3 {
			sym.module = strings.Trim(fields[3], "[]")
		}
		ks.syms = append(ks.syms, sym)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read kernel symbols")
	}

	// Addresses are zeroed when kptr_restrict hides them.
	if !nonZero {
		return nil, errors.Wrap(ErrKernelSymbols, "kernel symbol addresses are hidden")
	}

	sort.SliceStable(ks.syms, func(i, j int) bool {
		return ks.syms[i].addr < ks.syms[j].addr
	})

	return ks, nil
}

func loadKallsyms(path string) (*kernelSymbols, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrKernelSymbols, "failed to open %s: %v", path, err)
	}
	defer f.Close()

	return parseKallsyms(f)
}

// withVmlinux attaches the DWARF data of the vmlinux image at path.
func (ks *kernelSymbols) withVmlinux(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open vmlinux %s", path)
	}
	defer f.Close()

	data, err := f.DWARF()
	if err != nil {
		return errors.Wrap(err, "failed to read vmlinux debug info")
	}

	syms, err := f.Symbols()
	if err != nil {
		return errors.Wrap(err, "failed to read vmlinux symbols")
	}
	for _, s := range syms {
		if s.Name != kernelTextStart {
			continue
		}
		if runtime, ok := ks.addrOf(kernelTextStart); ok {
			ks.slide = runtime - s.Value
		}
		break
	}
	ks.debug = newDebugInfo(data)

	return nil
}

func (ks *kernelSymbols) addrOf(name string) (uint64, bool) {
	for _, s := range ks.syms {
		if s.name == name {
			return s.addr, true
		}
	}
	return 0, false
}

func (ks *kernelSymbols) symbolize(addr uint64) *Symbol {
	i := sort.Search(len(ks.syms), func(i int) bool {
		return ks.syms[i].addr > addr
	}) - 1
	// Nothing bounds the last symbol.
	if i < 0 || i+1 >= len(ks.syms) {
		return nil
	}

	s := ks.syms[i]
	sym := &Symbol{
		Name:   s.name,
		Module: s.module,
		Addr:   s.addr,
		Offset: addr - s.addr,
	}

	if ks.debug != nil && s.module == kernelModule {
		if f, err := ks.debug.frame(addr - ks.slide); err == nil && f != nil {
			sym.CodeInfo = f.codeInfo
			sym.Inlined = f.inlined
		}
	}

	return sym
}
