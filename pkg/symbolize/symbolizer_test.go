package symbolize

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/aquasecurity/libbpfgo/helpers"
	log "github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startFixture runs the C fixture, which stays alive until its stdin is
// closed, and returns its pid.
func startFixture(t *testing.T) uint32 {
	t.Helper()
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("fixture is a linux/amd64 executable")
	}

	cmd := exec.Command(cFixture)
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		stdin.Close()
		cmd.Wait()
	})

	// The fixture prints a line once it is running.
	_, err = bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)

	return uint32(cmd.Process.Pid)
}

func TestResolve_Process(t *testing.T) {
	pid := startFixture(t)
	im := openFixture(t, cFixture)
	outer := fixtureSymbol(t, im, "outer")

	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	addrs := []uint64{outer.Value + 9, 0, outer.Value}
	syms, err := s.Resolve(Process(pid), addrs)
	require.NoError(t, err)
	defer syms.Release()

	require.Equal(t, len(addrs), syms.Len())

	sym := syms.At(0)
	require.NotNil(t, sym)
	assert.Equal(t, "outer", sym.Name)
	assert.Equal(t, outer.Value, sym.Addr)
	assert.Equal(t, uint64(9), sym.Offset)
	assert.True(t, strings.HasSuffix(sym.Module, "testdata/inline"))
	require.NotNil(t, sym.CodeInfo)
	assert.Equal(t, "inline.c", sym.CodeInfo.File)
	assert.Equal(t, 16, sym.CodeInfo.Line)
	require.Len(t, sym.Inlined, 2)
	assert.Equal(t, "middle", sym.Inlined[0].Name)
	assert.Equal(t, "inner", sym.Inlined[1].Name)

	assert.Nil(t, syms.At(1))

	sym = syms.At(2)
	require.NotNil(t, sym)
	assert.Equal(t, "outer", sym.Name)
	assert.Equal(t, uint64(0), sym.Offset)
}

func TestResolve_ProcessIdempotent(t *testing.T) {
	pid := startFixture(t)
	im := openFixture(t, cFixture)
	outer := fixtureSymbol(t, im, "outer")

	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	addrs := []uint64{outer.Value + 9, outer.Value}

	first, err := s.Resolve(Process(pid), addrs)
	require.NoError(t, err)
	want := make([]Symbol, first.Len())
	for i := range want {
		require.NotNil(t, first.At(i))
		want[i] = *first.At(i)
	}
	first.Release()

	second, err := s.Resolve(Process(pid), addrs)
	require.NoError(t, err)
	defer second.Release()
	require.Equal(t, len(want), second.Len())
	for i := range want {
		require.NotNil(t, second.At(i))
		assert.Equal(t, want[i], *second.At(i))
	}
}

func TestResolve_NoProcess(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	syms, err := s.Resolve(Process(1<<30), []uint64{0x401000})
	require.ErrorIs(t, err, ErrNoProcess)
	assert.Nil(t, syms)
}

func TestResolve_UnsupportedSource(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Resolve(Source{Kind: SourceKind(42)}, nil)
	require.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestSymbols_Release(t *testing.T) {
	syms := newSymbols(3)
	require.Equal(t, 3, syms.Len())
	for i := 0; i < syms.Len(); i++ {
		assert.Nil(t, syms.At(i))
	}
	syms.syms[1] = &Symbol{Name: "f"}
	syms.Release()

	reused := newSymbols(2)
	defer reused.Release()
	require.Equal(t, 2, reused.Len())
	assert.Nil(t, reused.At(0))
	assert.Nil(t, reused.At(1))
}

func TestSource_String(t *testing.T) {
	assert.Equal(t, "kernel", Kernel().String())
	assert.Equal(t, "process 42", Process(42).String())
}

func TestVmlinux(t *testing.T) {
	release, err := helpers.UnameRelease()
	require.NoError(t, err)

	t.Run("configured", func(t *testing.T) {
		s, err := New(WithVmlinux("/boot/vmlinux"))
		require.NoError(t, err)
		defer s.Close()

		path, explicit := s.vmlinux()
		assert.Equal(t, "/boot/vmlinux", path)
		assert.True(t, explicit)
	})

	t.Run("running kernel", func(t *testing.T) {
		s, err := New()
		require.NoError(t, err)
		defer s.Close()
		s.vmlinuxDir = t.TempDir()
		want := filepath.Join(s.vmlinuxDir, "vmlinux-"+release)
		require.NoError(t, os.WriteFile(want, nil, 0o600))

		path, explicit := s.vmlinux()
		assert.Equal(t, want, path)
		assert.False(t, explicit)
	})

	t.Run("not installed", func(t *testing.T) {
		s, err := New()
		require.NoError(t, err)
		defer s.Close()
		s.vmlinuxDir = t.TempDir()

		path, _ := s.vmlinux()
		assert.Empty(t, path)
	})
}

func TestResolve_KernelDefaultVmlinux(t *testing.T) {
	release, err := helpers.UnameRelease()
	require.NoError(t, err)

	kallsymsPath := filepath.Join(t.TempDir(), "kallsyms")
	require.NoError(t, os.WriteFile(kallsymsPath, []byte(kallsyms), 0o600))

	tests := []struct {
		name    string
		vmlinux []byte
		wantLog bool
	}{
		{name: "absent"},
		{name: "unreadable", vmlinux: []byte("not an elf file"), wantLog: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			s, err := New(
				WithKallsymsPath(kallsymsPath),
				WithLogger(log.New(&buf).Level(log.DebugLevel)),
			)
			require.NoError(t, err)
			defer s.Close()

			s.vmlinuxDir = t.TempDir()
			if tt.vmlinux != nil {
				path := filepath.Join(s.vmlinuxDir, "vmlinux-"+release)
				require.NoError(t, os.WriteFile(path, tt.vmlinux, 0o600))
			}

			syms, err := s.Resolve(Kernel(), []uint64{0xffffffff81003000})
			require.NoError(t, err)
			defer syms.Release()
			require.NotNil(t, syms.At(0))
			assert.Equal(t, "schedule", syms.At(0).Name)
			assert.Nil(t, syms.At(0).CodeInfo)

			assert.Equal(t, tt.wantLog, strings.Contains(buf.String(), "kernel source locations disabled"))
		})
	}
}
