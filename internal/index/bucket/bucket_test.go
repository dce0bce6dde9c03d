package bucket

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(a, b uint32) descriptor.Identifier {
	return descriptor.MustIdentifier(descriptor.ResidueRef{Index: a}, descriptor.ResidueRef{Index: b})
}

func opID(a, b uint32, opA, opB uint16) descriptor.Identifier {
	return descriptor.MustIdentifier(
		descriptor.ResidueRef{Index: a, Operator: opA},
		descriptor.ResidueRef{Index: b, Operator: opB},
	)
}

func build(entries map[uint32][]descriptor.Identifier) *Bucket {
	b := NewBuilder()
	for s, ids := range entries {
		b.Add(s, ids...)
	}
	return b.Build()
}

// members flattens a bucket into a structure -> identifier set view.
func members(b *Bucket) map[uint32][]descriptor.Identifier {
	out := make(map[uint32][]descriptor.Identifier)
	for i := 0; i < b.StructureCount(); i++ {
		s, ids := b.At(i)
		out[s] = append([]descriptor.Identifier(nil), ids...)
	}
	return out
}

func TestBuilderSortsAndDeduplicates(t *testing.T) {
	b := NewBuilder()
	b.Add(7, id(3, 4), id(1, 2))
	b.Add(2, id(5, 6))
	b.Add(7, id(1, 2))
	b.Add(9)
	bk := b.Build()

	assert.Equal(t, []uint32{2, 7}, bk.Structures())
	assert.Equal(t, []uint32{0, 1}, bk.Offsets())
	assert.Equal(t, []descriptor.Identifier{id(1, 2), id(3, 4)}, bk.IdentifiersFor(7))
	assert.Nil(t, bk.IdentifiersFor(9))
	assert.True(t, bk.Contains(2))
	assert.False(t, bk.Contains(3))
	assert.Equal(t, 3, bk.IdentifierCount())
	assert.True(t, NewBuilder().Build().IsEmpty())
}

func TestNewRejectsBrokenLayout(t *testing.T) {
	_, err := New([]uint32{3, 1}, []uint32{0, 1}, []descriptor.Identifier{id(1, 2), id(2, 3)})
	assert.Error(t, err, "unsorted structures")
	_, err = New([]uint32{1, 2}, []uint32{0, 1}, []descriptor.Identifier{id(1, 2)})
	assert.Error(t, err, "structure without identifiers")
	_, err = New([]uint32{1}, []uint32{0, 1}, []descriptor.Identifier{id(1, 2)})
	assert.Error(t, err, "length mismatch")
	_, err = New(nil, nil, []descriptor.Identifier{id(1, 2)})
	assert.Error(t, err)

	b, err := New(nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, b.IsEmpty())
}

func TestMergeIsOrderIndependent(t *testing.T) {
	a := build(map[uint32][]descriptor.Identifier{1: {id(1, 2)}, 5: {id(3, 4)}})
	b := build(map[uint32][]descriptor.Identifier{3: {id(7, 8)}, 5: {id(9, 10), id(3, 4)}})
	c := build(map[uint32][]descriptor.Identifier{0: {id(0, 1)}})

	abc := Merge(a, b, c)
	cba := Merge(c, b, a)
	nested := Merge(Merge(a, b), c)
	assert.Equal(t, members(abc), members(cba))
	assert.Equal(t, members(abc), members(nested))
	assert.Equal(t, []uint32{0, 1, 3, 5}, abc.Structures())
	assert.Equal(t, []descriptor.Identifier{id(3, 4), id(9, 10)}, abc.IdentifiersFor(5))

	assert.Same(t, a, Merge(a, Empty(), nil))
	assert.True(t, Merge().IsEmpty())
}

func TestMergeRebasesOffsets(t *testing.T) {
	a := build(map[uint32][]descriptor.Identifier{1: {id(1, 2), id(2, 3)}})
	b := build(map[uint32][]descriptor.Identifier{4: {id(5, 6)}, 8: {id(6, 7), id(7, 8)}})
	m := Merge(b, a)
	assert.Equal(t, []uint32{1, 4, 8}, m.Structures())
	assert.Equal(t, []uint32{0, 2, 3}, m.Offsets())
	_, err := New(m.Structures(), m.Offsets(), m.Identifiers())
	require.NoError(t, err)
}

func TestWithout(t *testing.T) {
	b := build(map[uint32][]descriptor.Identifier{1: {id(1, 2)}, 2: {id(3, 4)}, 3: {id(5, 6)}})

	same, changed := b.Without(roaring.BitmapOf(10, 11))
	assert.False(t, changed)
	assert.Same(t, b, same)

	out, changed := b.Without(roaring.BitmapOf(2))
	assert.True(t, changed)
	assert.Equal(t, []uint32{1, 3}, out.Structures())
	assert.Equal(t, []descriptor.Identifier{id(5, 6)}, out.IdentifiersFor(3))

	gone, changed := b.Without(roaring.BitmapOf(1, 2, 3))
	assert.True(t, changed)
	assert.True(t, gone.IsEmpty())
}

func TestCodecRoundTrip(t *testing.T) {
	many := NewBuilder()
	for s := uint32(0); s < 300; s += 3 {
		for r := uint32(0); r < 12; r++ {
			many.Add(s, id(r, r+1+s%5))
		}
	}
	buckets := map[string]*Bucket{
		"empty":  Empty(),
		"plain":  build(map[uint32][]descriptor.Identifier{4: {id(1, 2)}, 9: {id(3, 4), id(4, 5)}}),
		"shared": build(map[uint32][]descriptor.Identifier{4: {opID(1, 2, 3, 3)}, 6: {id(1, 2)}}),
		"mixed":  build(map[uint32][]descriptor.Identifier{1: {opID(1, 2, 0, 7)}, 2: {opID(9, 8, 4095, 1)}}),
		"many":   many.Build(),
	}
	for _, compression := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		codec := NewCodec(compression, 16)
		for name, b := range buckets {
			t.Run(compression.String()+"/"+name, func(t *testing.T) {
				data, err := codec.Encode(b)
				require.NoError(t, err)
				back, err := codec.Decode(data)
				require.NoError(t, err)
				assert.Equal(t, b.Structures(), back.Structures())
				assert.Equal(t, b.Offsets(), back.Offsets())
				assert.Equal(t, b.Identifiers(), back.Identifiers())
			})
		}
	}
}

func TestCodecTagsEncodingAndCompression(t *testing.T) {
	codec := NewCodec(CompressionZstd, 1<<20)
	data, err := codec.Encode(build(map[uint32][]descriptor.Identifier{1: {opID(1, 2, 5, 5)}}))
	require.NoError(t, err)
	assert.Equal(t, uint8(descriptor.EncodingSharedOperator), data[5])
	assert.Equal(t, uint8(CompressionNone), data[6], "payload below the minimum size stays raw")

	many := NewBuilder()
	for s := uint32(0); s < 500; s++ {
		many.Add(s, id(1, 2))
	}
	data, err = NewCodec(CompressionZstd, 0).Encode(many.Build())
	require.NoError(t, err)
	assert.Equal(t, uint8(CompressionZstd), data[6])
}

func TestCodecDetectsCorruption(t *testing.T) {
	codec := NewCodec(CompressionNone, 0)
	data, err := codec.Encode(build(map[uint32][]descriptor.Identifier{4: {id(1, 2)}, 9: {id(3, 4)}}))
	require.NoError(t, err)

	cases := map[string][]byte{
		"truncated header": data[:10],
		"truncated body":   data[:len(data)-3],
		"bad magic":        flip(data, 0),
		"bad version":      flip(data, 4),
		"bad encoding":     set(data, 5, 9),
		"flipped payload":  flip(data, HeaderSize+2),
		"flipped count":    flip(data, 12),
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode(blob)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrCorruptBucket), "got %v", err)
		})
	}
}

func TestCodecRejectsDamagedCounts(t *testing.T) {
	many := NewBuilder()
	for s := uint32(0); s < 200; s++ {
		many.Add(s, id(1, 2))
	}
	b := many.Build()

	for _, compression := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		codec := NewCodec(compression, 0)
		data, err := codec.Encode(b)
		require.NoError(t, err)
		require.Equal(t, uint8(compression), data[6])

		cases := map[string][]byte{
			"identifier count":          setCount(data, 12, 0xFFFFFFF0, false),
			"structure count":           setCount(data, 8, 0xFFFFFFF0, false),
			"resealed identifier count": setCount(data, 12, 0xFFFFFFF0, true),
			"resealed structure count":  setCount(data, 8, 0x7FFFFFFF, true),
			"resealed plausible count":  setCount(data, 12, 1<<20, true),
			"resealed off by one":       setCount(data, 12, uint32(b.IdentifierCount()+1), true),
		}
		for name, blob := range cases {
			t.Run(compression.String()+"/"+name, func(t *testing.T) {
				_, err := codec.Decode(blob)
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperrors.ErrCorruptBucket), "got %v", err)
			})
		}
	}
}

// setCount overwrites a header count. With reseal the checksum is
// recomputed so only the size checks stand between the count and an
// allocation.
func setCount(data []byte, at int, v uint32, reseal bool) []byte {
	out := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(out[at:], v)
	if reseal {
		binary.LittleEndian.PutUint32(out[20:24], checksum(out))
	}
	return out
}

func flip(data []byte, at int) []byte {
	out := append([]byte(nil), data...)
	out[at] ^= 0xFF
	return out
}

func set(data []byte, at int, v byte) []byte {
	out := append([]byte(nil), data...)
	out[at] = v
	return out
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "ZSTD": CompressionZstd, "lz4": CompressionLZ4} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("snappy")
	assert.Error(t, err)
}
