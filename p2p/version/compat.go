// Package version implements the semantic-version compatibility gate used
// to decide whether a peer's advertised protocol version is acceptable
// (spec §4.8).
package version

import (
	"strconv"
	"strings"
)

// Minimum protocol versions per network, below which a peer is rejected.
const (
	MinimumMainnet = "1.3.1"
	MinimumTestnet = "1.2.3"
)

// Compatible reports whether remote is >= minimum under lexicographic
// triplet comparison. Non-triplet version strings are accepted outright.
func Compatible(remote, minimum string) bool {
	r, ok := parseTriplet(remote)
	if !ok {
		return true
	}
	m, ok := parseTriplet(minimum)
	if !ok {
		return true
	}
	for i := 0; i < 3; i++ {
		if r[i] != m[i] {
			return r[i] > m[i]
		}
	}
	return true
}

func parseTriplet(v string) ([3]int, bool) {
	var out [3]int
	parts := strings.SplitN(strings.TrimSpace(v), ".", 3)
	if len(parts) != 3 {
		return out, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}
