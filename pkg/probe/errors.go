package probe

import "github.com/pkg/errors"

var ErrProbeNotLoaded = errors.New("probe is not loaded")
