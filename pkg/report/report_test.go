package report_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/stackprof/pkg/record"
	"github.com/maxgio92/stackprof/pkg/report"
	"github.com/maxgio92/stackprof/pkg/symbolize"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(src symbolize.Source, addrs []uint64) (*symbolize.Symbols, error) {
	args := m.Called(src, addrs)
	if syms := args.Get(0); syms != nil {
		return syms.(*symbolize.Symbols), args.Error(1)
	}
	return nil, args.Error(1)
}

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
}

func TestPrintStack_NoSymbol(t *testing.T) {
	addrs := []uint64{0xffffffff81003004, 0xffffffff8dead000, 0xffffffff81002000}
	res := new(mockResolver)
	res.On("Resolve", symbolize.Kernel(), addrs).Return(symbolize.NewSymbols(
		&symbolize.Symbol{Name: "schedule", Addr: 0xffffffff81003000, Offset: 4},
		nil,
		&symbolize.Symbol{Name: "do_one_initcall", Addr: 0xffffffff81002000},
	), nil)

	var buf bytes.Buffer
	ok := report.NewReporter(report.WithWriter(&buf)).PrintStack(res, symbolize.Kernel(), addrs)
	require.True(t, ok)
	res.AssertExpectations(t)

	require.Equal(t, []string{
		"ffffffff81003004: schedule @ 0xffffffff81003000+0x4",
		"ffffffff8dead000: <no-symbol>",
		"ffffffff81002000: do_one_initcall @ 0xffffffff81002000+0x0",
	}, lines(&buf))
}

func TestPrintStack_Inlined(t *testing.T) {
	addrs := []uint64{0x401234, 0x402000}
	res := new(mockResolver)
	res.On("Resolve", symbolize.Process(7), addrs).Return(symbolize.NewSymbols(
		&symbolize.Symbol{
			Name:     "outer",
			Addr:     0x401200,
			Offset:   0x34,
			CodeInfo: &symbolize.CodeInfo{Dir: "/src", File: "main.c", Line: 12},
			Inlined: []symbolize.InlinedFn{
				{Name: "middle", CodeInfo: &symbolize.CodeInfo{File: "middle.h", Line: 4}},
				{Name: "inner"},
			},
		},
		&symbolize.Symbol{Name: "main", Addr: 0x402000, CodeInfo: &symbolize.CodeInfo{File: "main.c", Line: 30}},
	), nil)

	var buf bytes.Buffer
	ok := report.NewReporter(report.WithWriter(&buf)).PrintStack(res, symbolize.Process(7), addrs)
	require.True(t, ok)

	require.Equal(t, []string{
		"0000000000401234: outer @ 0x401200+0x34 /src/main.c:12",
		"                  middle @ middle.h:4 [inlined]",
		"                  inner [inlined]",
		"0000000000402000: main @ 0x402000+0x0 main.c:30",
	}, lines(&buf))
}

func TestPrintStack_Failure(t *testing.T) {
	res := new(mockResolver)
	res.On("Resolve", symbolize.Process(9), mock.Anything).Return(nil, errors.New("no such process"))

	var buf bytes.Buffer
	ok := report.NewReporter(report.WithWriter(&buf)).PrintStack(res, symbolize.Process(9), []uint64{0x1})
	assert.False(t, ok)
	assert.Equal(t, "  failed to symbolize addresses: no such process\n", buf.String())
}

func TestPrintEvent(t *testing.T) {
	ev := &record.Event{Pid: 42, CPU: 3, KStackSize: 8}
	copy(ev.Comm[:], "bash")
	ev.KStack[0] = 0xffffffff81003000

	res := new(mockResolver)
	res.On("Resolve", symbolize.Kernel(), []uint64{0xffffffff81003000}).Return(symbolize.NewSymbols(
		&symbolize.Symbol{Name: "schedule", Addr: 0xffffffff81003000},
	), nil)

	var buf bytes.Buffer
	failed := report.NewReporter(report.WithWriter(&buf)).PrintEvent(ev, res)
	assert.Equal(t, 0, failed)
	res.AssertExpectations(t)

	assert.Equal(t, "COMM: bash (pid=42) @ CPU 3\n"+
		"Kernel:\n"+
		"ffffffff81003000: schedule @ 0xffffffff81003000+0x0\n"+
		"No Userspace Stack\n"+
		"\n", buf.String())
}

func TestPrintEvent_Failures(t *testing.T) {
	ev := &record.Event{Pid: 42, KStackSize: 8, UStackSize: 16}
	res := new(mockResolver)
	res.On("Resolve", mock.Anything, mock.Anything).Return(nil, symbolize.ErrNoProcess)

	var buf bytes.Buffer
	failed := report.NewReporter(report.WithWriter(&buf)).PrintEvent(ev, res)
	assert.Equal(t, 2, failed)
	res.AssertNumberOfCalls(t, "Resolve", 2)
	assert.Contains(t, buf.String(), "Userspace:\n  failed to symbolize addresses: process does not exist\n")
}
