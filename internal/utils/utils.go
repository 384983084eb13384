package utils

import (
	"unicode"

	"github.com/zeebo/xxh3"
)

// Hash returns a 32-bit hash of s, suitable as an LRU hash callback.
func Hash(s string) uint32 {
	return uint32(xxh3.HashString(s))
}

// CleanComm removes null and non-printable characters from a task comm.
func CleanComm(comm []byte) string {
	cleaned := make([]byte, 0, len(comm))
	for _, b := range comm {
		if b == 0 {
			break
		}
		if unicode.IsPrint(rune(b)) {
			cleaned = append(cleaned, b)
		}
	}
	return string(cleaned)
}
