// Package shard partitions an ordered candidate list into contiguous,
// disjoint slices sized in proportion to per-backend weights.
package shard

import (
	"errors"
	"fmt"
)

// ErrInvalidPlan is returned when the inputs to Plan cannot produce a partition.
var ErrInvalidPlan = errors.New("invalid shard plan")

// Weight is one backend's share of the candidate list.
type Weight struct {
	Name   string
	Weight int
}

// Shard is the half-open index range [Start, End) of the candidate list
// assigned to a single backend.
type Shard struct {
	Backend string
	Start   int
	End     int
}

// Len returns the number of domains in the shard.
func (s Shard) Len() int { return s.End - s.Start }

// Plan splits n candidates across backends in their given order.
//
// Boundary i is ceil(n * W_i / total), where W_i is the summed weight of all
// backends before position i. Shard i covers [b_i, b_i+1) and the last shard
// ends at n, so shards never overlap, never leave a gap and never overrun.
// With n == 0 every shard is empty.
func Plan(n int, backends []Weight) ([]Shard, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative candidate count %d", ErrInvalidPlan, n)
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no backends", ErrInvalidPlan)
	}

	seen := make(map[string]struct{}, len(backends))
	var total int64
	for _, b := range backends {
		if b.Weight <= 0 {
			return nil, fmt.Errorf("%w: backend %q has non-positive weight %d", ErrInvalidPlan, b.Name, b.Weight)
		}
		if _, dup := seen[b.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate backend %q", ErrInvalidPlan, b.Name)
		}
		seen[b.Name] = struct{}{}
		total += int64(b.Weight)
	}

	shards := make([]Shard, len(backends))
	var cum int64
	start := 0
	for i, b := range backends {
		cum += int64(b.Weight)
		end := ceilDiv(int64(n)*cum, total)
		if i == len(backends)-1 {
			end = n
		}
		shards[i] = Shard{Backend: b.Name, Start: start, End: end}
		start = end
	}
	return shards, nil
}

// Find returns the shard assigned to the named backend.
func Find(plan []Shard, name string) (Shard, bool) {
	for _, s := range plan {
		if s.Backend == name {
			return s, true
		}
	}
	return Shard{}, false
}

// Slice returns the candidates covered by s.
func Slice[T any](items []T, s Shard) []T {
	return items[s.Start:s.End]
}

func ceilDiv(a, b int64) int {
	return int((a + b - 1) / b)
}
