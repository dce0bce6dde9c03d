package search

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
)

// Rank orders hits by ascending score, then structure id, then matched
// residues, and keeps at most limit of them. A limit of zero or less keeps
// every hit.
func Rank(hits []Hit, limit int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if a.StructureID != b.StructureID {
			return a.StructureID < b.StructureID
		}
		return residuesLess(a.Residues, b.Residues)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	if hits == nil {
		return []Hit{}
	}
	return hits
}

func residuesLess(a, b []descriptor.ResidueRef) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].Index != b[i].Index {
			return a[i].Index < b[i].Index
		}
		if a[i].Operator != b[i].Operator {
			return a[i].Operator < b[i].Operator
		}
	}
	return len(a) < len(b)
}
