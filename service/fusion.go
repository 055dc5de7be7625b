package service

import (
	"sort"

	"axio-backend/models"
)

// rrfRankConstant is the smoothing constant of reciprocal-rank fusion.
// 60 is the value from the original RRF paper and the common default.
const rrfRankConstant = 60

// fuseReciprocalRank merges ranked candidate lists into one ordered list.
// Each chunk's fused score is the sum, over every list it appears in, of
// 1/(rrfRankConstant + rank) with 1-based ranks. Chunks appearing in a
// single list keep their single contribution. Ties break by chunk ID so
// identical inputs always fuse to an identical ordering.
func fuseReciprocalRank(lists ...[]models.Chunk) []models.Chunk {
	type fused struct {
		chunk models.Chunk
		score float64
	}

	byID := make(map[string]*fused)
	order := make([]string, 0)

	for _, list := range lists {
		for rank, c := range list {
			entry, ok := byID[c.ID]
			if !ok {
				entry = &fused{chunk: c}
				byID[c.ID] = entry
				order = append(order, c.ID)
			}
			entry.score += 1.0 / float64(rrfRankConstant+rank+1)
		}
	}

	out := make([]models.Chunk, 0, len(order))
	for _, id := range order {
		entry := byID[id]
		entry.chunk.Score = entry.score
		out = append(out, entry.chunk)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out
}
