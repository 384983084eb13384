package symbolize

import (
	"debug/elf"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Built by `make testdata`, see testdata/inline.c and testdata/inline.rs.
const (
	cFixture    = "testdata/inline"
	rustFixture = "testdata/inline-rs"
)

func openFixture(t *testing.T, path string) *image {
	t.Helper()
	im, err := openImage(path)
	require.NoError(t, err)
	t.Cleanup(func() { im.close() })
	return im
}

// fixtureSymbol returns the function symbol whose name contains name.
func fixtureSymbol(t *testing.T, im *image, name string) elf.Symbol {
	t.Helper()
	for _, s := range im.syms {
		if strings.Contains(s.Name, name) {
			return s
		}
	}
	require.FailNow(t, "symbol not found", name)
	return elf.Symbol{}
}

// fileOffset maps a virtual address of the image back to its file offset.
func fileOffset(t *testing.T, im *image, vaddr uint64) uint64 {
	t.Helper()
	for _, p := range im.file.Progs {
		if p.Type == elf.PT_LOAD && vaddr >= p.Vaddr && vaddr < p.Vaddr+p.Filesz {
			return vaddr - p.Vaddr + p.Off
		}
	}
	require.FailNow(t, "address not in a loadable segment")
	return 0
}

func TestImage_InlineChain(t *testing.T) {
	im := openFixture(t, cFixture)
	outer := fixtureSymbol(t, im, "outer")

	// outer+9 is the multiply of inner(), inlined in middle(), inlined in
	// outer().
	pc := outer.Value + 9
	sym := im.symbolize(pc, fileOffset(t, im, pc), true)
	require.NotNil(t, sym)

	assert.Equal(t, "outer", sym.Name)
	assert.Equal(t, outer.Value, sym.Addr)
	assert.Equal(t, uint64(9), sym.Offset)
	require.NotNil(t, sym.CodeInfo)
	assert.Equal(t, "inline.c", sym.CodeInfo.File)
	assert.Equal(t, 16, sym.CodeInfo.Line)

	require.Len(t, sym.Inlined, 2)
	assert.Equal(t, "middle", sym.Inlined[0].Name)
	require.NotNil(t, sym.Inlined[0].CodeInfo)
	assert.Equal(t, "inline.c", sym.Inlined[0].CodeInfo.File)
	assert.Equal(t, 11, sym.Inlined[0].CodeInfo.Line)
	assert.Equal(t, "inner", sym.Inlined[1].Name)
	require.NotNil(t, sym.Inlined[1].CodeInfo)
	assert.Equal(t, 6, sym.Inlined[1].CodeInfo.Line)
}

func TestImage_NamespacedInlineChain(t *testing.T) {
	im := openFixture(t, rustFixture)
	work := fixtureSymbol(t, im, "3app4work")

	// work+0xd is in app::helper, inlined in app::work. Both live in the
	// inline::app namespace.
	pc := work.Value + 0xd
	sym := im.symbolize(pc, fileOffset(t, im, pc), true)
	require.NotNil(t, sym)

	assert.Contains(t, sym.Name, "work")
	assert.Equal(t, work.Value, sym.Addr)
	assert.Equal(t, uint64(0xd), sym.Offset)
	require.NotNil(t, sym.CodeInfo)
	assert.Equal(t, "inline.rs", sym.CodeInfo.File)
	assert.Equal(t, 12, sym.CodeInfo.Line)

	require.Len(t, sym.Inlined, 1)
	assert.Equal(t, "helper", sym.Inlined[0].Name)
	require.NotNil(t, sym.Inlined[0].CodeInfo)
	assert.Equal(t, "inline.rs", sym.Inlined[0].CodeInfo.File)
	assert.Equal(t, 7, sym.Inlined[0].CodeInfo.Line)
}

func TestImage_OutsideText(t *testing.T) {
	im := openFixture(t, cFixture)

	assert.Nil(t, im.symbolize(0x10, 1<<40, true))
}

func TestDebugInfo_Frame(t *testing.T) {
	im := openFixture(t, cFixture)
	outer := fixtureSymbol(t, im, "outer")
	d := im.debugInfo()
	require.NotNil(t, d)

	f, err := d.frame(outer.Value + 9)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "outer", f.name)
	require.Len(t, f.inlined, 2)
	assert.Equal(t, "middle", f.inlined[0].Name)
	assert.Equal(t, "inner", f.inlined[1].Name)

	f, err = d.frame(0x10)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestImageCache_SameFile(t *testing.T) {
	c, err := newImageCache(4)
	require.NoError(t, err)
	defer c.purge()

	abs, err := filepath.Abs(cFixture)
	require.NoError(t, err)
	link := filepath.Join(t.TempDir(), "inline")
	require.NoError(t, os.Symlink(abs, link))

	first, err := c.get(cFixture)
	require.NoError(t, err)
	second, err := c.get(link)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, c.lru.Len())
}

func TestImageCache_Missing(t *testing.T) {
	c, err := newImageCache(4)
	require.NoError(t, err)
	defer c.purge()

	_, err = c.get(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, 0, c.lru.Len())
}
