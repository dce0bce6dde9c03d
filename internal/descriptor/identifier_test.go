package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifierRoundTrip(t *testing.T) {
	indices := []uint32{0, 1, 17, 4095, MaxResidueIndex}
	operators := []uint16{0, 1, 63, MaxOperator}
	for _, i1 := range indices {
		for _, i2 := range indices {
			for _, o1 := range operators {
				for _, o2 := range operators {
					a := ResidueRef{Index: i1, Operator: o1}
					b := ResidueRef{Index: i2, Operator: o2}
					id, err := NewIdentifier(a, b)
					require.NoError(t, err)
					require.Equal(t, a, id.First())
					require.Equal(t, b, id.Second())
					require.Equal(t, MustIdentifier(b, a), id.Swap())

					enc := EncodingFor([]Identifier{id})
					fields, err := AppendFields(nil, id, enc)
					require.NoError(t, err)
					require.Len(t, fields, enc.Fields())
					back, err := IdentifierFromFields(fields, enc)
					require.NoError(t, err)
					require.Equal(t, id, back)
				}
			}
		}
	}
}

func TestIdentifierRejectsOutOfRange(t *testing.T) {
	_, err := NewIdentifier(ResidueRef{Index: MaxResidueIndex + 1}, ResidueRef{})
	assert.Error(t, err)
	_, err = NewIdentifier(ResidueRef{}, ResidueRef{Operator: MaxOperator + 1})
	assert.Error(t, err)
}

func TestEncodingForPicksMostCompact(t *testing.T) {
	plain := MustIdentifier(ResidueRef{Index: 1}, ResidueRef{Index: 2})
	shared := MustIdentifier(ResidueRef{Index: 1, Operator: 3}, ResidueRef{Index: 2, Operator: 3})
	mixed := MustIdentifier(ResidueRef{Index: 1, Operator: 3}, ResidueRef{Index: 2})

	assert.Equal(t, EncodingIndexPair, EncodingFor(nil))
	assert.Equal(t, EncodingIndexPair, EncodingFor([]Identifier{plain}))
	assert.Equal(t, EncodingSharedOperator, EncodingFor([]Identifier{plain, shared}))
	assert.Equal(t, EncodingOperatorPair, EncodingFor([]Identifier{shared, mixed, plain}))

	_, err := AppendFields(nil, shared, EncodingIndexPair)
	assert.Error(t, err)
	_, err = AppendFields(nil, mixed, EncodingSharedOperator)
	assert.Error(t, err)
	_, err = IdentifierFromFields([]int32{1, 2, 3}, EncodingIndexPair)
	assert.Error(t, err, "field count must match the tag")
	_, err = IdentifierFromFields([]int32{1, 2}, Encoding(9))
	assert.Error(t, err)
}

func TestIdentifierShares(t *testing.T) {
	r := func(i uint32) ResidueRef { return ResidueRef{Index: i} }
	ab := MustIdentifier(r(1), r(2))
	assert.True(t, ab.Shares(MustIdentifier(r(2), r(3))))
	assert.True(t, ab.Shares(MustIdentifier(r(3), r(1))))
	assert.False(t, ab.Shares(MustIdentifier(r(3), r(4))))
	assert.False(t, ab.Shares(MustIdentifier(ResidueRef{Index: 1, Operator: 1}, r(4))),
		"the same residue under another operator is a different position")
}

func TestOccurrenceCanonicalOrder(t *testing.T) {
	occ, err := NewOccurrence(PairGeometry{
		First:      ResidueRef{Index: 4},
		Second:     ResidueRef{Index: 9},
		FirstType:  Serine,
		SecondType: Histidine,
		Backbone:   6.2,
		SideChain:  4.9,
		Angle:      71,
	})
	require.NoError(t, err)
	assert.True(t, occ.Descriptor.Flipped())
	assert.Equal(t, Histidine, occ.Descriptor.Type1())
	assert.Equal(t, ResidueRef{Index: 9}, occ.Canonical().First())
	assert.Equal(t, ResidueRef{Index: 4}, occ.Identifier.First())

	t1, t2 := occ.Types()
	assert.Equal(t, Serine, t1)
	assert.Equal(t, Histidine, t2)
	assert.Equal(t, DistanceBin(6), occ.Descriptor.Backbone())
	assert.Equal(t, DistanceBin(5), occ.Descriptor.SideChain())
	assert.Equal(t, AngleBin(4), occ.Descriptor.Angle())
	assert.True(t, occ.Touches(ResidueRef{Index: 9}))
	assert.False(t, occ.Touches(ResidueRef{Index: 5}))
}
