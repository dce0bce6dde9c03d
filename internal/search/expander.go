package search

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
)

// Tolerances are the per-bin slack allowed around a query descriptor.
type Tolerances struct {
	Backbone  int
	SideChain int
	Angle     int
}

func (t Tolerances) validate() error {
	if t.Backbone < 0 || t.SideChain < 0 || t.Angle < 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "negative tolerance %+v", t)
	}
	return nil
}

// Exchanges maps a query residue position to the residue types accepted
// there. A position without an entry accepts only its own type. An entry
// replaces that default, so it must list the original type to keep it.
type Exchanges map[descriptor.ResidueRef][]descriptor.ResidueType

// allowed returns the accepted types at pos, defaulting to original.
func (e Exchanges) allowed(pos descriptor.ResidueRef, original descriptor.ResidueType) []descriptor.ResidueType {
	if types, ok := e[pos]; ok && len(types) > 0 {
		return types
	}
	return []descriptor.ResidueType{original}
}

// options counts the accepted types at pos.
func (e Exchanges) options(pos descriptor.ResidueRef) int {
	if n := len(e[pos]); n > 0 {
		return n
	}
	return 1
}

// Expand lists every descriptor within tol of occ's bins, for every
// combination of accepted types at its two positions. Each combination is
// canonicalised afresh, so the flip bit of a result reflects the substituted
// types rather than the original ones. The result is sorted by descriptor
// and holds each descriptor once, scored by its bin distance to occ.
func Expand(occ descriptor.Occurrence, tol Tolerances, ex Exchanges) ([]descriptor.ScoredDescriptor, error) {
	if err := tol.validate(); err != nil {
		return nil, err
	}
	orig := occ.Descriptor
	t1, t2 := occ.Types()
	types1 := ex.allowed(occ.Identifier.First(), t1)
	types2 := ex.allowed(occ.Identifier.Second(), t2)

	scores := make(map[descriptor.Descriptor]int)
	for _, a := range types1 {
		for _, b := range types2 {
			for db := -tol.Backbone; db <= tol.Backbone; db++ {
				bb := orig.Backbone().Shift(db)
				for ds := -tol.SideChain; ds <= tol.SideChain; ds++ {
					sc := orig.SideChain().Shift(ds)
					for da := -tol.Angle; da <= tol.Angle; da++ {
						d, err := descriptor.NewDescriptor(a, b, bb, sc, orig.Angle().Shift(da))
						if err != nil {
							return nil, apperrors.Newf(apperrors.ErrInvalidInput, "expanding %v: %v", occ, err)
						}
						score := d.Score(orig)
						if prev, seen := scores[d]; !seen || score < prev {
							scores[d] = score
						}
					}
				}
			}
		}
	}

	out := make([]descriptor.ScoredDescriptor, 0, len(scores))
	for d, score := range scores {
		out = append(out, descriptor.ScoredDescriptor{Descriptor: d, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor < out[j].Descriptor })
	return out, nil
}
