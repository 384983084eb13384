package profiler

import (
	"github.com/pkg/errors"
)

var ErrNilReader = errors.New("event reader is nil")
