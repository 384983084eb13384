package symbolize

import (
	"debug/dwarf"
	"path/filepath"

	"github.com/pkg/errors"
)

// callSite describes an inlined subroutine: the function that was inlined
// and where it was called from in its caller.
type callSite struct {
	name string
	file string
	line int
	col  int
}

// frame is what DWARF knows about an address.
type frame struct {
	name     string
	codeInfo *CodeInfo
	inlined  []InlinedFn
}

type debugInfo struct {
	data *dwarf.Data
}

func newDebugInfo(data *dwarf.Data) *debugInfo {
	return &debugInfo{data: data}
}

// frame returns the function containing pc, its inline chain and the source
// locations. It returns nil if pc is not covered by the debug info.
func (d *debugInfo) frame(pc uint64) (*frame, error) {
	r := d.data.Reader()
	cu, err := r.SeekPC(pc)
	if err != nil {
		if errors.Is(err, dwarf.ErrUnknownPC) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to seek compilation unit")
	}

	var files []*dwarf.LineFile
	var loc *CodeInfo
	lr, err := d.data.LineReader(cu)
	if err == nil && lr != nil {
		files = lr.Files()
		var le dwarf.LineEntry
		if err := lr.SeekPC(pc, &le); err == nil && le.File != nil {
			loc = codeInfo(le.File.Name, le.Line, le.Column)
		}
	}

	var chain []*dwarf.Entry
	if cu.Children {
		chain, err = d.walk(r, pc, nil)
		if err != nil {
			return nil, err
		}
	}
	if len(chain) == 0 {
		if loc == nil {
			return nil, nil
		}
		return &frame{codeInfo: loc}, nil
	}

	f := &frame{name: d.name(chain[0])}
	sites := make([]callSite, 0, len(chain)-1)
	for _, e := range chain[1:] {
		site := callSite{name: d.name(e)}
		if idx, ok := e.Val(dwarf.AttrCallFile).(int64); ok && idx >= 0 && int(idx) < len(files) && files[idx] != nil {
			site.file = files[idx].Name
		}
		if line, ok := e.Val(dwarf.AttrCallLine).(int64); ok {
			site.line = int(line)
		}
		if col, ok := e.Val(dwarf.AttrCallColumn).(int64); ok {
			site.col = int(col)
		}
		sites = append(sites, site)
	}
	f.codeInfo, f.inlined = inlineFrames(sites, loc)

	return f, nil
}

// walk scans the children of the entry the reader was positioned after, and
// descends into the one containing pc. It returns the chain of subprogram and
// inlined subroutine entries containing pc, outermost first. Scopes such as
// namespaces are searched but never part of the chain.
func (d *debugInfo) walk(r *dwarf.Reader, pc uint64, chain []*dwarf.Entry) ([]*dwarf.Entry, error) {
	for {
		e, err := r.Next()
		if err != nil {
			return chain, errors.Wrap(err, "failed to read debug info entry")
		}
		if e == nil || e.Tag == 0 {
			return chain, nil
		}

		switch e.Tag {
		case dwarf.TagSubprogram, dwarf.TagInlinedSubroutine, dwarf.TagLexDwarfBlock:
			if d.contains(e, pc) {
				if e.Tag != dwarf.TagLexDwarfBlock {
					chain = append(chain, e)
				}
				if e.Children {
					return d.walk(r, pc, chain)
				}
				return chain, nil
			}
		case dwarf.TagNamespace, dwarf.TagModule, dwarf.TagClassType, dwarf.TagStructType, dwarf.TagUnionType:
			// Scopes have no address ranges, Rust and C++ nest functions
			// in them.
			if e.Children {
				found, err := d.walk(r, pc, chain)
				if err != nil || len(found) > len(chain) {
					return found, err
				}
				continue
			}
		}

		if e.Children {
			r.SkipChildren()
		}
	}
}

func (d *debugInfo) contains(e *dwarf.Entry, pc uint64) bool {
	ranges, err := d.data.Ranges(e)
	if err != nil {
		return false
	}
	for _, rg := range ranges {
		if pc >= rg[0] && pc < rg[1] {
			return true
		}
	}
	return false
}

// name follows abstract origins and specifications until a name is found.
func (d *debugInfo) name(e *dwarf.Entry) string {
	for i := 0; e != nil && i < 8; i++ {
		if name, ok := e.Val(dwarf.AttrName).(string); ok {
			return name
		}
		if name, ok := e.Val(dwarf.AttrLinkageName).(string); ok {
			return name
		}

		off, ok := e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
		if !ok {
			off, ok = e.Val(dwarf.AttrSpecification).(dwarf.Offset)
		}
		if !ok {
			return ""
		}

		r := d.data.Reader()
		r.Seek(off)
		next, err := r.Next()
		if err != nil {
			return ""
		}
		e = next
	}
	return ""
}

// inlineFrames lays out an inline chain. The location of every frame is the
// call site of the next inlined function, while the innermost one gets the
// location of the address itself.
func inlineFrames(sites []callSite, loc *CodeInfo) (*CodeInfo, []InlinedFn) {
	if len(sites) == 0 {
		return loc, nil
	}

	outer := codeInfo(sites[0].file, sites[0].line, sites[0].col)
	inlined := make([]InlinedFn, len(sites))
	for i, site := range sites {
		inlined[i].Name = site.name
		if i+1 < len(sites) {
			next := sites[i+1]
			inlined[i].CodeInfo = codeInfo(next.file, next.line, next.col)
		} else {
			inlined[i].CodeInfo = loc
		}
	}

	return outer, inlined
}

func codeInfo(path string, line, col int) *CodeInfo {
	if path == "" {
		return nil
	}
	info := &CodeInfo{
		File:   filepath.Base(path),
		Line:   line,
		Column: col,
	}
	if dir := filepath.Dir(path); dir != "." {
		info.Dir = dir
	}
	return info
}
