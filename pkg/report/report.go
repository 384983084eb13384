// Package report prints captured stack traces in a human readable form.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/maxgio92/stackprof/pkg/record"
	"github.com/maxgio92/stackprof/pkg/symbolize"
)

const noSymbol = "<no-symbol>"

// Resolver resolves the addresses of an address space.
type Resolver interface {
	Resolve(src symbolize.Source, addrs []uint64) (*symbolize.Symbols, error)
}

type Reporter struct {
	w io.Writer
}

type Option func(*Reporter)

func WithWriter(w io.Writer) Option {
	return func(r *Reporter) {
		r.w = w
	}
}

func NewReporter(opts ...Option) *Reporter {
	r := &Reporter{w: os.Stdout}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// PrintEvent prints the header and both stacks of ev, terminated by a blank
// line. It returns the number of stacks that could not be symbolized.
func (r *Reporter) PrintEvent(ev *record.Event, res Resolver) int {
	failed := 0

	fmt.Fprintf(r.w, "COMM: %s (pid=%d) @ CPU %d\n", ev.CommString(), ev.Pid, ev.CPU)

	if frames := ev.KernelFrames(); len(frames) > 0 {
		fmt.Fprintln(r.w, "Kernel:")
		if !r.PrintStack(res, symbolize.Kernel(), frames) {
			failed++
		}
	} else {
		fmt.Fprintln(r.w, "No Kernel Stack")
	}

	if frames := ev.UserFrames(); len(frames) > 0 {
		fmt.Fprintln(r.w, "Userspace:")
		if !r.PrintStack(res, symbolize.Process(ev.Pid), frames) {
			failed++
		}
	} else {
		fmt.Fprintln(r.w, "No Userspace Stack")
	}

	fmt.Fprintln(r.w)

	return failed
}

// PrintStack resolves and prints addrs, one line per frame and one more per
// inlined call. It returns false if the whole resolution failed.
func (r *Reporter) PrintStack(res Resolver, src symbolize.Source, addrs []uint64) bool {
	syms, err := res.Resolve(src, addrs)
	if err != nil {
		fmt.Fprintf(r.w, "  failed to symbolize addresses: %v\n", err)
		return false
	}
	defer syms.Release()

	for i, addr := range addrs {
		var sym *symbolize.Symbol
		if i < syms.Len() {
			sym = syms.At(i)
		}
		if sym == nil || sym.Name == "" {
			fmt.Fprintf(r.w, "%016x: %s\n", addr, noSymbol)
			continue
		}

		r.printFrame(addr, sym)
		for _, fn := range sym.Inlined {
			r.printInlined(fn)
		}
	}

	return true
}

func (r *Reporter) printFrame(addr uint64, sym *symbolize.Symbol) {
	fmt.Fprintf(r.w, "%016x: %s @ 0x%x+0x%x", addr, sym.Name, sym.Addr, sym.Offset)
	if loc := location(sym.CodeInfo); loc != "" {
		fmt.Fprintf(r.w, " %s", loc)
	}
	fmt.Fprintln(r.w)
}

func (r *Reporter) printInlined(fn symbolize.InlinedFn) {
	fmt.Fprintf(r.w, "%16s  %s", "", fn.Name)
	if loc := location(fn.CodeInfo); loc != "" {
		fmt.Fprintf(r.w, " @ %s", loc)
	}
	fmt.Fprintln(r.w, " [inlined]")
}

func location(info *symbolize.CodeInfo) string {
	switch {
	case info == nil || info.File == "":
		return ""
	case info.Dir != "":
		return fmt.Sprintf("%s/%s:%d", info.Dir, info.File, info.Line)
	default:
		return fmt.Sprintf("%s:%d", info.File, info.Line)
	}
}
