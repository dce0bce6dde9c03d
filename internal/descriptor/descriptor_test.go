package descriptor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorCanonicalizationIsSymmetric(t *testing.T) {
	for _, t1 := range ResidueTypes() {
		for _, t2 := range ResidueTypes() {
			a := MustDescriptor(t1, t2, 7, 12, 3)
			b := MustDescriptor(t2, t1, 7, 12, 3)
			require.Equal(t, a.Key(), b.Key(), "%v/%v", t1, t2)
			assert.False(t, a.Type2().Less(a.Type1()))
			if t1 == t2 {
				assert.False(t, a.Flipped())
				assert.False(t, b.Flipped())
				continue
			}
			assert.NotEqual(t, a.Flipped(), b.Flipped(), "%v/%v", t1, t2)
			assert.NotEqual(t, a, b, "equality includes the flipped bit")
		}
	}
}

func TestDescriptorSharedOneLetterCodesStayOrdered(t *testing.T) {
	d := MustDescriptor(Deoxyadenosine, Alanine, 1, 1, 1)
	assert.True(t, d.Flipped())
	assert.Equal(t, Alanine, d.Type1())
	assert.Equal(t, Deoxyadenosine, d.Type2())
}

func TestDescriptorRoundTrip(t *testing.T) {
	types := ResidueTypes()
	for i, t1 := range types {
		t2 := types[(i*7+3)%len(types)]
		for bb := 0; bb < NumDistanceBins; bb += 5 {
			for sc := 0; sc < NumDistanceBins; sc += 8 {
				for a := 0; a < NumAngleBins; a++ {
					d := MustDescriptor(t1, t2, DistanceBin(bb), DistanceBin(sc), AngleBin(a))
					lo, hi := t1, t2
					if hi.Less(lo) {
						lo, hi = hi, lo
					}
					require.Equal(t, lo, d.Type1())
					require.Equal(t, hi, d.Type2())
					require.Equal(t, DistanceBin(bb), d.Backbone())
					require.Equal(t, DistanceBin(sc), d.SideChain())
					require.Equal(t, AngleBin(a), d.Angle())

					decoded, err := DescriptorFromKey(d.Key())
					require.NoError(t, err)
					require.Equal(t, d.Canonical(), decoded)
				}
			}
		}
	}
}

func TestDescriptorRejectsOutOfRange(t *testing.T) {
	_, err := NewDescriptor(numResidueTypes, Alanine, 1, 1, 1)
	assert.Error(t, err)
	_, err = NewDescriptor(Alanine, Alanine, NumDistanceBins, 1, 1)
	assert.Error(t, err)
	_, err = NewDescriptor(Alanine, Alanine, 1, 1, NumAngleBins)
	assert.Error(t, err)

	_, err = DescriptorFromKey(uint32(MustDescriptor(Valine, Alanine, 1, 1, 1)))
	assert.Error(t, err, "flipped bit is not part of a key")
	_, err = DescriptorFromKey(uint32(Valine) | uint32(Alanine)<<type2Shift)
	assert.Error(t, err, "non-canonical type order")
}

func TestDescriptorScore(t *testing.T) {
	ref := MustDescriptor(Histidine, Serine, 10, 10, 4)
	assert.Equal(t, 0, ref.Score(ref))
	other := MustDescriptor(Histidine, Serine, 11, 8, 5)
	assert.Equal(t, 4, other.Score(ref))

	assert.Equal(t, Unscored, NewScoredDescriptor(other, nil).Score)
	assert.Equal(t, 4, NewScoredDescriptor(other, &ref).Score)
}

func TestBinsClamp(t *testing.T) {
	for _, x := range []float64{180, 181, 359.9, 1e9, math.Inf(1)} {
		assert.Equal(t, AngleBin(NumAngleBins-1), AngleBinOf(x), "angle %v", x)
	}
	for _, x := range []float64{-0.1, -90, math.Inf(-1), math.NaN()} {
		assert.Equal(t, AngleBin(0), AngleBinOf(x), "angle %v", x)
	}
	assert.Equal(t, AngleBin(1), AngleBinOf(29.9))
	assert.Equal(t, AngleBin(2), AngleBinOf(30))

	assert.Equal(t, DistanceBin(40), DistanceBinOf(40))
	assert.Equal(t, DistanceBin(40), DistanceBinOf(512))
	assert.Equal(t, DistanceBin(0), DistanceBinOf(-3))
	assert.Equal(t, DistanceBin(0), DistanceBinOf(math.NaN()))
	assert.Equal(t, DistanceBin(6), DistanceBinOf(5.5))
	assert.Equal(t, DistanceBin(5), DistanceBinOf(5.49))

	assert.Equal(t, DistanceBin(0), DistanceBin(2).Shift(-5))
	assert.Equal(t, DistanceBin(40), DistanceBin(39).Shift(5))
	assert.Equal(t, AngleBin(9), AngleBin(8).Shift(3))
}

func TestParseResidueType(t *testing.T) {
	ty, err := ParseResidueType(" his ")
	require.NoError(t, err)
	assert.Equal(t, Histidine, ty)
	ty, err = ParseResidueType("DT")
	require.NoError(t, err)
	assert.True(t, ty.IsNucleotide())
	_, err = ParseResidueType("XYZ")
	assert.Error(t, err)
}
