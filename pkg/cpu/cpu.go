// Package cpu reads the set of online execution units.
package cpu

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	OnlinePath = "/sys/devices/system/cpu/online"

	// MaxCPUs is the largest CONFIG_NR_CPUS the kernel accepts.
	MaxCPUs = 8192
)

var ErrInvalidRange = errors.New("invalid cpu range")

// Mask is indexed by CPU id; true means online.
type Mask []bool

// IDs returns the ids of the online CPUs in ascending order.
func (m Mask) IDs() []int {
	ids := make([]int, 0, len(m))
	for id, online := range m {
		if online {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m Mask) Online(id int) bool {
	return id >= 0 && id < len(m) && m[id]
}

// ReadOnline parses the kernel online CPUs file.
func ReadOnline() (Mask, error) {
	buf, err := os.ReadFile(OnlinePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", OnlinePath)
	}
	return ParseMask(string(buf))
}

// ParseMask parses a range list such as "0-3,5".
// Reference: https://www.kernel.org/doc/Documentation/admin-guide/cputopology.rst
func ParseMask(list string) (Mask, error) {
	var mask Mask
	list = strings.Trim(list, "\n ")
	if list == "" {
		return mask, nil
	}
	for _, cpuRange := range strings.Split(list, ",") {
		rangeOp := strings.SplitN(cpuRange, "-", 2)
		first, err := strconv.ParseUint(rangeOp[0], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidRange, "%q", cpuRange)
		}
		last := first
		if len(rangeOp) == 2 {
			last, err = strconv.ParseUint(rangeOp[1], 10, 32)
			if err != nil || last < first {
				return nil, errors.Wrapf(ErrInvalidRange, "%q", cpuRange)
			}
		}
		if last >= MaxCPUs {
			return nil, errors.Wrapf(ErrInvalidRange, "%q exceeds %d cpus", cpuRange, MaxCPUs)
		}
		for int(last) >= len(mask) {
			mask = append(mask, false)
		}
		for n := first; n <= last; n++ {
			mask[n] = true
		}
	}
	return mask, nil
}
