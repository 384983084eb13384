package symbolize

import (
	"github.com/pkg/errors"
)

var (
	ErrKernelSymbols     = errors.New("kernel symbols are not available")
	ErrNoProcess         = errors.New("process does not exist")
	ErrUnsupportedSource = errors.New("unsupported symbolization source")
)
