package symbolize

import (
	"sync"
)

// CodeInfo is a source location. Dir and Column may be empty.
type CodeInfo struct {
	Dir    string
	File   string
	Line   int
	Column int
}

// InlinedFn is a function inlined into a Symbol. CodeInfo, when set, is the
// location reached inside the inlined function.
type InlinedFn struct {
	Name     string
	CodeInfo *CodeInfo
}

// Symbol is the resolution of a single address.
type Symbol struct {
	Name   string
	Module string
	// Addr is the start address of the symbol, in the address space of the
	// resolved address.
	Addr   uint64
	Offset uint64

	CodeInfo *CodeInfo
	// Inlined is ordered from the outermost to the innermost function.
	Inlined []InlinedFn
}

// Symbols holds one entry per resolved address, in input order. A nil entry
// means that no symbol was found for that address.
type Symbols struct {
	syms []*Symbol
}

var symbolsPool = sync.Pool{
	New: func() any {
		return &Symbols{syms: make([]*Symbol, 0, 128)}
	},
}

func newSymbols(n int) *Symbols {
	s := symbolsPool.Get().(*Symbols)
	s.syms = s.syms[:0]
	for i := 0; i < n; i++ {
		s.syms = append(s.syms, nil)
	}
	return s
}

// NewSymbols returns a result holding syms. It is meant for alternative
// resolvers.
func NewSymbols(syms ...*Symbol) *Symbols {
	s := newSymbols(0)
	s.syms = append(s.syms, syms...)
	return s
}

func (s *Symbols) Len() int {
	return len(s.syms)
}

func (s *Symbols) At(i int) *Symbol {
	return s.syms[i]
}

// Release hands the storage back for reuse. The Symbols must not be used
// afterwards.
func (s *Symbols) Release() {
	if s == nil {
		return
	}
	clear(s.syms)
	s.syms = s.syms[:0]
	symbolsPool.Put(s)
}
