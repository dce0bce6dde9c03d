package descriptor

import "fmt"

// Occurrence is the atomic fact "these two residues exhibit this geometry".
// Identifier keeps the residues in the order the caller supplied them; the
// descriptor's flipped bit says whether that order was swapped to canonicalise
// the types.
type Occurrence struct {
	Descriptor Descriptor
	Identifier Identifier
}

// PairGeometry is one residue-graph edge as produced by a structure: residue
// positions and types in caller order plus raw distances (Å) and angle (°).
type PairGeometry struct {
	First, Second         ResidueRef
	FirstType, SecondType ResidueType
	Backbone, SideChain   float64
	Angle                 float64
}

// NewOccurrence bins the geometry and builds the canonical descriptor.
func NewOccurrence(g PairGeometry) (Occurrence, error) {
	d, err := NewDescriptor(g.FirstType, g.SecondType,
		DistanceBinOf(g.Backbone), DistanceBinOf(g.SideChain), AngleBinOf(g.Angle))
	if err != nil {
		return Occurrence{}, fmt.Errorf("building descriptor: %w", err)
	}
	id, err := NewIdentifier(g.First, g.Second)
	if err != nil {
		return Occurrence{}, fmt.Errorf("building identifier: %w", err)
	}
	return Occurrence{Descriptor: d, Identifier: id}, nil
}

// Canonical returns the identifier in stored order: the residue of type 1
// first. This is what buckets hold.
func (o Occurrence) Canonical() Identifier {
	if o.Descriptor.Flipped() {
		return o.Identifier.Swap()
	}
	return o.Identifier
}

// Types returns the residue types in identifier (caller) order.
func (o Occurrence) Types() (ResidueType, ResidueType) {
	if o.Descriptor.Flipped() {
		return o.Descriptor.Type2(), o.Descriptor.Type1()
	}
	return o.Descriptor.Type1(), o.Descriptor.Type2()
}

// Touches reports whether r is one of the occurrence's residues.
func (o Occurrence) Touches(r ResidueRef) bool {
	return o.Identifier.First() == r || o.Identifier.Second() == r
}

func (o Occurrence) String() string {
	return fmt.Sprintf("%v%v", o.Descriptor, o.Identifier)
}
