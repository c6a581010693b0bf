package search

import (
	"sort"
)

// DefaultRRFK is the conventional reciprocal rank fusion constant from the
// original paper (Cormack et al., SIGIR 2009).
const DefaultRRFK = 60

// FuseRRF combines independently ranked lists using Reciprocal Rank Fusion.
// A chunk at 1-based rank r in a list contributes 1/(k + r) to its fused
// score; absence from a list contributes nothing. Because only ranks are
// used, fusion is insensitive to the scorers' raw score scales.
//
// Output contains every chunk present in at least one list, sorted by fused
// score descending with ties broken by chunk ID ascending.
func FuseRRF(k int, lists ...[]ScoredChunk) []FusedResult {
	if k <= 0 {
		k = DefaultRRFK
	}

	scores := make(map[int64]float64)
	for _, list := range lists {
		for i, sc := range list {
			scores[sc.ChunkID] += 1.0 / float64(k+i+1)
		}
	}

	fused := make([]FusedResult, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, FusedResult{ChunkID: id, FusedScore: score})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})

	return fused
}
