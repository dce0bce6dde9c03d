package structure

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultCutoff is the backbone distance (Å) beyond which residues are not
// connected in the residue graph.
const DefaultCutoff = 20.0

// Geometry measures the pair (a, b): distance between backbone anchors,
// distance between side-chain anchors, and the angle in degrees between the
// two backbone-to-side-chain vectors. A degenerate vector yields angle 0.
func Geometry(a, b Residue) (backbone, sideChain, angle float64) {
	backbone = r3.Norm(r3.Sub(a.Backbone, b.Backbone))
	sideChain = r3.Norm(r3.Sub(a.SideChain, b.SideChain))
	u := r3.Sub(a.SideChain, a.Backbone)
	v := r3.Sub(b.SideChain, b.Backbone)
	nu, nv := r3.Norm(u), r3.Norm(v)
	if nu == 0 || nv == 0 {
		return backbone, sideChain, 0
	}
	cos := r3.Dot(u, v) / (nu * nv)
	cos = math.Max(-1, math.Min(1, cos))
	return backbone, sideChain, math.Acos(cos) * 180 / math.Pi
}

// GraphBuilder turns residues into residue-graph edges, one occurrence per
// pair whose backbone anchors lie within Cutoff. Residues of unknown type are
// not part of the graph.
type GraphBuilder struct {
	Cutoff float64
}

func (g GraphBuilder) cutoff() float64 {
	if g.Cutoff <= 0 {
		return DefaultCutoff
	}
	return g.Cutoff
}

func (g GraphBuilder) edge(s *Structure, i, j int) (descriptor.Occurrence, bool, error) {
	a, b := s.Residues[i], s.Residues[j]
	bb, sc, angle := Geometry(a, b)
	if bb > g.cutoff() {
		return descriptor.Occurrence{}, false, nil
	}
	occ, err := descriptor.NewOccurrence(descriptor.PairGeometry{
		First:      s.RefAt(i),
		Second:     s.RefAt(j),
		FirstType:  a.Type,
		SecondType: b.Type,
		Backbone:   bb,
		SideChain:  sc,
		Angle:      angle,
	})
	if err != nil {
		return descriptor.Occurrence{}, false, err
	}
	return occ, true, nil
}

type cell struct{ x, y, z int }

// Build emits the residue graph of the whole structure. Neighbour search uses
// a uniform grid with cells as wide as the cutoff, so only residues in
// adjacent cells are compared.
func (g GraphBuilder) Build(s *Structure) ([]descriptor.Occurrence, error) {
	size := g.cutoff()
	grid := make(map[cell][]int)
	cellOf := func(v r3.Vec) cell {
		return cell{int(math.Floor(v.X / size)), int(math.Floor(v.Y / size)), int(math.Floor(v.Z / size))}
	}
	for i, r := range s.Residues {
		if r.Type == descriptor.Unknown {
			continue
		}
		c := cellOf(r.Backbone)
		grid[c] = append(grid[c], i)
	}

	var out []descriptor.Occurrence
	for i, r := range s.Residues {
		if r.Type == descriptor.Unknown {
			continue
		}
		c := cellOf(r.Backbone)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for dz := -1; dz <= 1; dz++ {
					for _, j := range grid[cell{c.x + dx, c.y + dy, c.z + dz}] {
						if j <= i {
							continue
						}
						occ, ok, err := g.edge(s, i, j)
						if err != nil {
							return nil, err
						}
						if ok {
							out = append(out, occ)
						}
					}
				}
			}
		}
	}
	return out, nil
}

// BuildSubset emits the edges among the given residues only, with each
// occurrence oriented in the order refs lists them.
func (g GraphBuilder) BuildSubset(s *Structure, refs []descriptor.ResidueRef) ([]descriptor.Occurrence, error) {
	positions := make([]int, len(refs))
	for k, ref := range refs {
		i, ok := s.byRef[ref]
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrUnknownResidue, "%s has no residue at %v", s.ID, ref)
		}
		if s.Residues[i].Type == descriptor.Unknown {
			return nil, apperrors.Newf(apperrors.ErrUnknownResidue, "%s residue %v has unknown type", s.ID, s.Residues[i].Label)
		}
		positions[k] = i
	}
	var out []descriptor.Occurrence
	for a := 0; a < len(positions); a++ {
		for b := a + 1; b < len(positions); b++ {
			if positions[a] == positions[b] {
				continue
			}
			occ, ok, err := g.edge(s, positions[a], positions[b])
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, occ)
			}
		}
	}
	return out, nil
}
