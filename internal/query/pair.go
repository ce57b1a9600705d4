package query

import (
	"net/netip"
)

// Pair is one resolved (domain, address) observation.
type Pair struct {
	Domain string
	Addr   netip.Addr
}

// Merge concatenates the pair lists in argument order. Duplicates are kept;
// the matcher deduplicates.
func Merge(lists ...[]Pair) []Pair {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]Pair, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
