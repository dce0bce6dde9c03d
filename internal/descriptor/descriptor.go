package descriptor

import (
	"fmt"
)

// Descriptor is the canonical, binned signature of a residue pair.
//
// Bit layout, least significant first:
//
//	[0,6)   residue type 1
//	[6,12)  residue type 2
//	[12,18) backbone distance bin
//	[18,24) side-chain distance bin
//	[24,28) angle bin
//	[28]    flipped
//
// Type 1 never sorts after type 2. When the caller's order had to be swapped
// to satisfy that, the flipped bit is set so consumers can tell which physical
// residue ended up first. Equality includes the flipped bit; Key does not.
type Descriptor uint32

const (
	typeBits     = 6
	distanceBits = 6
	angleBits    = 4

	type1Shift     = 0
	type2Shift     = type1Shift + typeBits
	backboneShift  = type2Shift + typeBits
	sideChainShift = backboneShift + distanceBits
	angleShift     = sideChainShift + distanceBits
	flippedShift   = angleShift + angleBits

	typeMask     = 1<<typeBits - 1
	distanceMask = 1<<distanceBits - 1
	angleMask    = 1<<angleBits - 1
	flippedBit   = 1 << flippedShift

	keyMask = flippedBit - 1
)

// Unscored marks a ScoredDescriptor that was built without a reference.
const Unscored = -1

// NewDescriptor validates its inputs and builds the canonical descriptor,
// swapping the types and setting the flipped bit when t1 sorts after t2.
// Distances and the angle are symmetric in the two residues, so the swap only
// touches the types.
func NewDescriptor(t1, t2 ResidueType, backbone, sideChain DistanceBin, angle AngleBin) (Descriptor, error) {
	if !t1.Valid() || !t2.Valid() {
		return 0, fmt.Errorf("residue type out of range: %d, %d", t1, t2)
	}
	if !backbone.Valid() || !sideChain.Valid() {
		return 0, fmt.Errorf("distance bin out of range: backbone=%d side_chain=%d", backbone, sideChain)
	}
	if !angle.Valid() {
		return 0, fmt.Errorf("angle bin out of range: %d", angle)
	}
	flipped := t2.Less(t1)
	if flipped {
		t1, t2 = t2, t1
	}
	d := uint32(t1)<<type1Shift |
		uint32(t2)<<type2Shift |
		uint32(backbone)<<backboneShift |
		uint32(sideChain)<<sideChainShift |
		uint32(angle)<<angleShift
	if flipped {
		d |= flippedBit
	}
	return Descriptor(d), nil
}

// MustDescriptor is NewDescriptor for inputs known to be valid.
func MustDescriptor(t1, t2 ResidueType, backbone, sideChain DistanceBin, angle AngleBin) Descriptor {
	d, err := NewDescriptor(t1, t2, backbone, sideChain, angle)
	if err != nil {
		panic(err)
	}
	return d
}

// DescriptorFromKey decodes a stored index key, rejecting values that no
// constructor could have produced.
func DescriptorFromKey(key uint32) (Descriptor, error) {
	if key&^keyMask != 0 {
		return 0, fmt.Errorf("descriptor key %#x has bits above the key mask", key)
	}
	d := Descriptor(key)
	if !d.Type1().Valid() || !d.Type2().Valid() || d.Type2().Less(d.Type1()) {
		return 0, fmt.Errorf("descriptor key %#x has non-canonical residue types", key)
	}
	if !d.Backbone().Valid() || !d.SideChain().Valid() || !d.Angle().Valid() {
		return 0, fmt.Errorf("descriptor key %#x has out-of-range bins", key)
	}
	return d, nil
}

func (d Descriptor) Type1() ResidueType { return ResidueType(uint32(d) >> type1Shift & typeMask) }
func (d Descriptor) Type2() ResidueType { return ResidueType(uint32(d) >> type2Shift & typeMask) }

func (d Descriptor) Backbone() DistanceBin {
	return DistanceBin(uint32(d) >> backboneShift & distanceMask)
}

func (d Descriptor) SideChain() DistanceBin {
	return DistanceBin(uint32(d) >> sideChainShift & distanceMask)
}

func (d Descriptor) Angle() AngleBin { return AngleBin(uint32(d) >> angleShift & angleMask) }

func (d Descriptor) Flipped() bool { return uint32(d)&flippedBit != 0 }

// Key is the inverted-index key: the descriptor without its flipped bit, so a
// pair and its mirror land in the same bucket.
func (d Descriptor) Key() uint32 { return uint32(d) & keyMask }

// Canonical drops the flipped bit.
func (d Descriptor) Canonical() Descriptor { return Descriptor(d.Key()) }

// Symmetric reports whether both residue types are equal, in which case the
// stored identifier may list the residues in either order.
func (d Descriptor) Symmetric() bool { return d.Type1() == d.Type2() }

// Score is the ordinal distance between the geometric bins of d and ref.
// Zero means exact geometric agreement.
func (d Descriptor) Score(ref Descriptor) int {
	return absInt(int(d.Backbone())-int(ref.Backbone())) +
		absInt(int(d.SideChain())-int(ref.SideChain())) +
		absInt(int(d.Angle())-int(ref.Angle()))
}

func (d Descriptor) String() string {
	flip := ""
	if d.Flipped() {
		flip = ",flipped"
	}
	return fmt.Sprintf("%s-%s[bb=%d,sc=%d,a=%d%s]",
		d.Type1(), d.Type2(), d.Backbone(), d.SideChain(), d.Angle(), flip)
}

// ScoredDescriptor pairs a descriptor with its score against the reference it
// was derived from, or Unscored.
type ScoredDescriptor struct {
	Descriptor Descriptor
	Score      int
}

// NewScoredDescriptor scores d against ref when ref is non-nil.
func NewScoredDescriptor(d Descriptor, ref *Descriptor) ScoredDescriptor {
	if ref == nil {
		return ScoredDescriptor{Descriptor: d, Score: Unscored}
	}
	return ScoredDescriptor{Descriptor: d, Score: d.Score(*ref)}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
