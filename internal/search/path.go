package search

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
)

// AssemblePath orders the motif's residue pairs into one connected path:
// every pair after the first shares a residue position with a pair before it.
// Pairs whose positions accept more residue types are placed as late as
// connectivity allows, since they match more candidates.
//
// positions is the number of residues the query asked for. The path must
// reach all of them; a pair set that falls apart into several components is
// rejected with ErrDisconnectedMotif, and one that misses a residue entirely
// with ErrResidueCountMismatch.
func AssemblePath(occs []descriptor.Occurrence, ex Exchanges, positions int) ([]descriptor.Occurrence, error) {
	if len(occs) == 0 {
		return nil, apperrors.Newf(apperrors.ErrResidueCountMismatch,
			"no residue pairs within the distance cutoff, %d residues requested", positions)
	}
	remaining := append([]descriptor.Occurrence(nil), occs...)
	sort.SliceStable(remaining, func(i, j int) bool {
		return exchangeWeight(remaining[i], ex) < exchangeWeight(remaining[j], ex)
	})

	path := make([]descriptor.Occurrence, 0, len(remaining))
	path = append(path, remaining[0])
	remaining = remaining[1:]
	for len(remaining) > 0 {
		next := -1
		for i, cand := range remaining {
			if connects(cand, path) {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, apperrors.Newf(apperrors.ErrDisconnectedMotif,
				"%d of %d residue pairs are not connected to the rest", len(remaining), len(occs))
		}
		path = append(path, remaining[next])
		remaining = append(remaining[:next], remaining[next+1:]...)
	}

	seen := make(map[descriptor.ResidueRef]struct{}, positions)
	for _, o := range path {
		seen[o.Identifier.First()] = struct{}{}
		seen[o.Identifier.Second()] = struct{}{}
	}
	if len(seen) != positions {
		return nil, apperrors.Newf(apperrors.ErrResidueCountMismatch,
			"path covers %d residues, %d requested", len(seen), positions)
	}
	return path, nil
}

func exchangeWeight(o descriptor.Occurrence, ex Exchanges) int {
	return ex.options(o.Identifier.First()) + ex.options(o.Identifier.Second())
}

func connects(o descriptor.Occurrence, path []descriptor.Occurrence) bool {
	for _, p := range path {
		if o.Identifier.Shares(p.Identifier) {
			return true
		}
	}
	return false
}
