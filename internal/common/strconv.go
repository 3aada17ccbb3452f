package common

import (
	"strconv"
	"strings"
)

// AtoiDefault converts the provided string to an integer falling back to the default when parsing fails.
func AtoiDefault(value string, def int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// AtoiBounded is AtoiDefault clamped to [lo, hi].
func AtoiBounded(value string, def, lo, hi int) int {
	n := AtoiDefault(value, def)
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
