// Lane name parsing and ordering for AMS feed hardware
//
// AFC-style firmwares report feed lanes as config object names ("lane0",
// "lane1", ...) with no guaranteed order. Discovery merges names from several
// status sources, so the same lane can show up more than once.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package lane

import (
	"sort"
	"strconv"
	"strings"
)

// Prefix is the literal prefix a numerically ordered lane name must carry.
const Prefix = "lane"

// ParseIndex extracts the numeric ordering key from a lane name.
// It succeeds only for names of the exact form "lane<digits>"; anything
// else (wrong prefix, empty suffix, non-digit characters) reports ok=false.
// Malformed input is never an error, just an absent index.
func ParseIndex(name string) (index int, ok bool) {
	if !strings.HasPrefix(name, Prefix) {
		return 0, false
	}
	suffix := name[len(Prefix):]
	if suffix == "" {
		return 0, false
	}
	for i := 0; i < len(suffix); i++ {
		if suffix[i] < '0' || suffix[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		// Digits-only suffix can still overflow int
		return 0, false
	}
	return n, true
}

// Less is the total order used for lane names: names with a parsed index
// sort before names without one; indexed names ascend numerically;
// unindexed names ascend lexicographically.
func Less(a, b string) bool {
	ai, aok := ParseIndex(a)
	bi, bok := ParseIndex(b)
	switch {
	case aok && bok:
		if ai != bi {
			return ai < bi
		}
		// Equal indexes (e.g. "lane1" vs "lane01") fall back to the
		// name so the order stays total.
		return a < b
	case aok:
		return true
	case bok:
		return false
	default:
		return a < b
	}
}

// SortAndDedupe returns the names sorted under Less with duplicates
// collapsed. Applying it to its own output is a no-op.
func SortAndDedupe(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })

	// Adjacent after sort, so a single pass removes duplicates.
	deduped := out[:0]
	for i, name := range out {
		if i == 0 || name != out[i-1] {
			deduped = append(deduped, name)
		}
	}
	return deduped
}
