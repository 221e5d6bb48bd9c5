package engine

import "sort"

// Rank orders candidate slots by the default policy: soonest first, ties
// broken by fewest violated soft constraints, then by proximity to each
// party's local midday (the precomputed Score), then by stable emission
// index. The input is not modified and no candidate is discarded; callers
// choose how many of the top entries to surface.
func Rank(slots []CandidateSlot) []CandidateSlot {
	ranked := make([]CandidateSlot, len(slots))
	copy(ranked, slots)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if len(a.ViolatedSoft) != len(b.ViolatedSoft) {
			return len(a.ViolatedSoft) < len(b.ViolatedSoft)
		}
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		return a.Index < b.Index
	})

	return ranked
}

// TopK returns the first k ranked slots without re-ranking. k larger than the
// slice returns everything.
func TopK(ranked []CandidateSlot, k int) []CandidateSlot {
	if k < 0 || k > len(ranked) {
		k = len(ranked)
	}
	out := make([]CandidateSlot, k)
	copy(out, ranked[:k])
	return out
}
