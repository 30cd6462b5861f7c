// Package util contains misc internal utilities.
package util

import (
	"strconv"
	"strings"
)

// Clamp limits v to the range [low, high].
func Clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// ArangeByte mimics np.arange for byte values.  It accepts one, two, or
// three arguments: end; start, end; or start, end, step.
func ArangeByte(args ...byte) []byte {
	var start, end, step byte
	switch len(args) {
	case 1:
		start, end, step = 0, args[0], 1
	case 2:
		start, end, step = args[0], args[1], 1
	case 3:
		start, end, step = args[0], args[1], args[2]
	default:
		return nil
	}
	out := make([]byte, 0, (end-start)/step)
	for v := start; v < end; v += step {
		out = append(out, v)
	}
	return out
}

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}
