package symbolize

import "fmt"

type SourceKind int

const (
	SourceKernel SourceKind = iota
	SourceProcess
)

// Source identifies the address space the addresses to resolve belong to.
type Source struct {
	Kind SourceKind
	Pid  uint32
}

// Kernel is the running kernel address space.
func Kernel() Source {
	return Source{Kind: SourceKernel}
}

// Process is the user address space of the process pid.
func Process(pid uint32) Source {
	return Source{Kind: SourceProcess, Pid: pid}
}

func (s Source) String() string {
	switch s.Kind {
	case SourceKernel:
		return "kernel"
	case SourceProcess:
		return fmt.Sprintf("process %d", s.Pid)
	default:
		return "unknown"
	}
}
