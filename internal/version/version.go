// Package version orders dot-separated numeric version strings.
package version

import (
	"strconv"
	"strings"
)

// Compare returns -1, 0 or 1 according to the numeric ordering of two
// dot-separated versions. Missing trailing segments count as zero, so
// "8.15" and "8.15.0" are equal.
func Compare(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av := segment(as, i)
		bv := segment(bs, i)
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// Highest reduces a set of versions to its maximum by Compare. The second
// return is false when the input is empty.
func Highest(versions []string) (string, bool) {
	if len(versions) == 0 {
		return "", false
	}
	highest := versions[0]
	for _, v := range versions[1:] {
		if Compare(v, highest) > 0 {
			highest = v
		}
	}
	return highest, true
}

func segment(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
	if err != nil {
		return 0
	}
	return v
}
