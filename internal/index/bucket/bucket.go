// Package bucket holds the per-descriptor posting structure of the inverted
// index: every identifier sharing one descriptor across the archive, grouped
// by owning structure in CSR form. Buckets are immutable; inserting, merging
// and deleting all build new buckets.
package bucket

import (
	"fmt"
	"slices"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	"github.com/RoaringBitmap/roaring/v2"
)

// Bucket stores structure indices (strictly ascending), a CSR offset array of
// the same length, and the flat identifier data. Structure i owns
// identifiers[offsets[i]:offsets[i+1]], the last one runs to the end.
type Bucket struct {
	structures  []uint32
	offsets     []uint32
	identifiers []descriptor.Identifier
}

var empty = &Bucket{}

// Empty returns the shared empty bucket.
func Empty() *Bucket {
	return empty
}

// New validates the CSR invariants and wraps the arrays without copying.
func New(structures, offsets []uint32, identifiers []descriptor.Identifier) (*Bucket, error) {
	if len(structures) != len(offsets) {
		return nil, fmt.Errorf("offset array length %d != structure array length %d", len(offsets), len(structures))
	}
	for i := range structures {
		if i > 0 && structures[i] <= structures[i-1] {
			return nil, fmt.Errorf("structure indices not strictly ascending at position %d", i)
		}
		end := uint32(len(identifiers))
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if offsets[i] >= end || end > uint32(len(identifiers)) {
			return nil, fmt.Errorf("structure %d has invalid identifier range [%d,%d)", structures[i], offsets[i], end)
		}
	}
	if len(structures) > 0 && offsets[0] != 0 {
		return nil, fmt.Errorf("first offset must be 0, got %d", offsets[0])
	}
	if len(structures) == 0 && len(identifiers) > 0 {
		return nil, fmt.Errorf("%d identifiers without owning structures", len(identifiers))
	}
	if len(structures) == 0 {
		return empty, nil
	}
	return &Bucket{structures: structures, offsets: offsets, identifiers: identifiers}, nil
}

// IsEmpty reports whether the bucket has no structures.
func (b *Bucket) IsEmpty() bool {
	return len(b.structures) == 0
}

// StructureCount is the number of structures with at least one identifier.
func (b *Bucket) StructureCount() int {
	return len(b.structures)
}

// IdentifierCount is the total number of identifiers across structures.
func (b *Bucket) IdentifierCount() int {
	return len(b.identifiers)
}

// Structures returns the structure indices. The slice is shared and must not
// be modified.
func (b *Bucket) Structures() []uint32 {
	return b.structures
}

// Offsets returns the CSR offset array. The slice is shared.
func (b *Bucket) Offsets() []uint32 {
	return b.offsets
}

// Identifiers returns the flat identifier array. The slice is shared.
func (b *Bucket) Identifiers() []descriptor.Identifier {
	return b.identifiers
}

// At returns the structure index and identifiers of the i-th structure.
func (b *Bucket) At(i int) (uint32, []descriptor.Identifier) {
	end := uint32(len(b.identifiers))
	if i+1 < len(b.offsets) {
		end = b.offsets[i+1]
	}
	return b.structures[i], b.identifiers[b.offsets[i]:end]
}

// IdentifiersFor returns the identifiers owned by structure, or nil.
func (b *Bucket) IdentifiersFor(structure uint32) []descriptor.Identifier {
	i, ok := b.find(structure)
	if !ok {
		return nil
	}
	_, ids := b.At(i)
	return ids
}

// Contains reports whether structure owns identifiers in this bucket.
func (b *Bucket) Contains(structure uint32) bool {
	_, ok := b.find(structure)
	return ok
}

// ContainsAny reports whether any structure in set owns identifiers here.
func (b *Bucket) ContainsAny(set *roaring.Bitmap) bool {
	if set == nil || set.IsEmpty() {
		return false
	}
	for _, s := range b.structures {
		if set.Contains(s) {
			return true
		}
	}
	return false
}

// StructureSet returns the bucket's structure indices as a bitmap.
func (b *Bucket) StructureSet() *roaring.Bitmap {
	return roaring.BitmapOf(b.structures...)
}

func (b *Bucket) find(structure uint32) (int, bool) {
	i := sort.Search(len(b.structures), func(i int) bool { return b.structures[i] >= structure })
	return i, i < len(b.structures) && b.structures[i] == structure
}

// Without returns a bucket lacking every structure in remove, and whether
// anything was dropped. When nothing matches, b itself is returned.
func (b *Bucket) Without(remove *roaring.Bitmap) (*Bucket, bool) {
	if !b.ContainsAny(remove) {
		return b, false
	}
	out := &Bucket{
		structures:  make([]uint32, 0, len(b.structures)),
		offsets:     make([]uint32, 0, len(b.offsets)),
		identifiers: make([]descriptor.Identifier, 0, len(b.identifiers)),
	}
	for i := range b.structures {
		s, ids := b.At(i)
		if remove.Contains(s) {
			continue
		}
		out.structures = append(out.structures, s)
		out.offsets = append(out.offsets, uint32(len(out.identifiers)))
		out.identifiers = append(out.identifiers, ids...)
	}
	if len(out.structures) == 0 {
		return empty, true
	}
	return out, true
}

type entry struct {
	structure uint32
	ids       []descriptor.Identifier
}

// Merge combines buckets by concatenating their arrays and re-basing the
// offsets. Structures present in several inputs get the sorted union of their
// identifiers, so the resulting membership does not depend on input order or
// grouping.
func Merge(buckets ...*Bucket) *Bucket {
	var nonEmpty []*Bucket
	for _, b := range buckets {
		if b != nil && !b.IsEmpty() {
			nonEmpty = append(nonEmpty, b)
		}
	}
	switch len(nonEmpty) {
	case 0:
		return empty
	case 1:
		return nonEmpty[0]
	}

	var total, totalIDs int
	for _, b := range nonEmpty {
		total += len(b.structures)
		totalIDs += len(b.identifiers)
	}
	entries := make([]entry, 0, total)
	for _, b := range nonEmpty {
		for i := range b.structures {
			s, ids := b.At(i)
			entries = append(entries, entry{structure: s, ids: ids})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].structure < entries[j].structure })

	out := &Bucket{
		structures:  make([]uint32, 0, total),
		offsets:     make([]uint32, 0, total),
		identifiers: make([]descriptor.Identifier, 0, totalIDs),
	}
	for i := 0; i < len(entries); {
		j := i + 1
		for j < len(entries) && entries[j].structure == entries[i].structure {
			j++
		}
		out.structures = append(out.structures, entries[i].structure)
		out.offsets = append(out.offsets, uint32(len(out.identifiers)))
		if j == i+1 {
			out.identifiers = append(out.identifiers, entries[i].ids...)
		} else {
			var combined []descriptor.Identifier
			for _, e := range entries[i:j] {
				combined = append(combined, e.ids...)
			}
			slices.Sort(combined)
			out.identifiers = append(out.identifiers, slices.Compact(combined)...)
		}
		i = j
	}
	return out
}

// Builder accumulates identifiers per structure and produces a Bucket.
// It is not safe for concurrent use.
type Builder struct {
	byStructure map[uint32][]descriptor.Identifier
	count       int
}

func NewBuilder() *Builder {
	return &Builder{byStructure: make(map[uint32][]descriptor.Identifier)}
}

func (bb *Builder) Add(structure uint32, ids ...descriptor.Identifier) {
	if len(ids) == 0 {
		return
	}
	bb.byStructure[structure] = append(bb.byStructure[structure], ids...)
	bb.count += len(ids)
}

// Len is the number of identifiers added so far.
func (bb *Builder) Len() int {
	return bb.count
}

// Build sorts structures ascending and de-duplicates identifiers within each
// structure.
func (bb *Builder) Build() *Bucket {
	if len(bb.byStructure) == 0 {
		return empty
	}
	structures := make([]uint32, 0, len(bb.byStructure))
	for s := range bb.byStructure {
		structures = append(structures, s)
	}
	slices.Sort(structures)
	out := &Bucket{
		structures:  structures,
		offsets:     make([]uint32, 0, len(structures)),
		identifiers: make([]descriptor.Identifier, 0, bb.count),
	}
	for _, s := range structures {
		ids := bb.byStructure[s]
		slices.Sort(ids)
		out.offsets = append(out.offsets, uint32(len(out.identifiers)))
		out.identifiers = append(out.identifiers, slices.Compact(ids)...)
	}
	return out
}
