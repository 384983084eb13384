package capture

import (
	"github.com/pkg/errors"
)

var (
	ErrHardwareUnsupported = errors.New("hardware cycles counter unsupported: try running with the --sw-event option")
	ErrNoOnlineCPUs        = errors.New("no online cpus")
	ErrAttacherNil         = errors.New("program attacher is nil")
	ErrCPUOutOfRange       = errors.New("online cpu id exceeds the number of possible cpus")
)
