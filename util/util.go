// Package util contains misc internal utilities.
package util

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// ArangeInt returns [start, end) in steps of step, like numpy.arange.
// The end is included if it falls on the grid and inclusive is true.
func ArangeInt(start, end, step int, inclusive bool) []int {
	if step <= 0 {
		return nil
	}
	var out []int
	for i := start; i < end || (inclusive && i == end); i += step {
		out = append(out, i)
	}
	return out
}

// ParseIntList parses a comma separated list of ints.  Elements may also be
// ranges of the form start:end:step, which include end when it is on the grid.
// e.g., "0,8,16:64:16" => [0 8 16 32 48 64]
func ParseIntList(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if !strings.Contains(field, ":") {
			i, err := strconv.Atoi(field)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %q", field)
			}
			out = append(out, i)
			continue
		}
		parts := strings.Split(field, ":")
		if len(parts) != 3 {
			return nil, errors.Errorf("range %q is not start:end:step", field)
		}
		var nums [3]int
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, errors.Wrapf(err, "parsing range %q", field)
			}
			nums[i] = n
		}
		if nums[2] <= 0 {
			return nil, errors.Errorf("range %q has a non-positive step", field)
		}
		out = append(out, ArangeInt(nums[0], nums[1], nums[2], true)...)
	}
	return out, nil
}

// Clamp limits a value to [low, high]
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	} else if input > high {
		return high
	}
	return input
}

// ClampByte limits an int to [0, 255] and converts it
func ClampByte(i int) byte {
	if i < 0 {
		return 0
	} else if i > 255 {
		return 255
	}
	return byte(i)
}

// MillisToDuration converts a number of milliseconds to a Duration
func MillisToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
