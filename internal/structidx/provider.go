// Package structidx hands out the compact uint32 structure indices the
// inverted index stores in place of structure identifiers.
//
// An index stays bound to its structure until released. Released indices are
// parked in a pending set and only become reusable once the caller confirms,
// through Reclaim, that the index no longer references them.
package structidx

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
	"github.com/RoaringBitmap/roaring/v2"
)

// Provider is the owned, mutex-guarded mapping between structure
// identifiers and indices.
type Provider struct {
	mu      sync.Mutex
	byID    map[string]uint32
	byIndex map[uint32]string
	next    uint32
	free    []uint32
	pending *roaring.Bitmap
	logger  *slog.Logger
}

func New() *Provider {
	return &Provider{
		byID:    make(map[string]uint32),
		byIndex: make(map[uint32]string),
		pending: roaring.New(),
		logger:  slog.Default().With("component", "structure-index"),
	}
}

// Acquire returns the index bound to id, minting one when id has none.
// minted reports whether a new binding was created.
func (p *Provider) Acquire(id string) (index uint32, minted bool, err error) {
	if id == "" {
		return 0, false, apperrors.New(apperrors.ErrInvalidInput, "empty structure identifier")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx, ok := p.byID[id]; ok {
		return idx, false, nil
	}
	if n := len(p.free); n > 0 {
		index = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		if p.next == math.MaxUint32 {
			return 0, false, fmt.Errorf("structure index space exhausted")
		}
		index = p.next
		p.next++
	}
	p.byID[id] = index
	p.byIndex[index] = id
	return index, true, nil
}

// Lookup returns the index bound to id.
func (p *Provider) Lookup(id string) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.byID[id]
	return idx, ok
}

// Identifier returns the structure bound to index.
func (p *Provider) Identifier(index uint32) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byIndex[index]
	return id, ok
}

// Release unbinds the given structures and returns their indices, which are
// parked as pending. Unknown identifiers are ignored.
func (p *Provider) Release(ids []string) *roaring.Bitmap {
	p.mu.Lock()
	defer p.mu.Unlock()
	released := roaring.New()
	for _, id := range ids {
		idx, ok := p.byID[id]
		if !ok {
			continue
		}
		delete(p.byID, id)
		delete(p.byIndex, idx)
		released.Add(idx)
	}
	p.pending.Or(released)
	return released
}

// ReleaseIndices parks indices that are bound to nothing, such as lingering
// indices found by a consistency scan. Bound, free and already pending
// indices are left alone.
func (p *Provider) ReleaseIndices(indices *roaring.Bitmap) *roaring.Bitmap {
	p.mu.Lock()
	defer p.mu.Unlock()
	released := roaring.New()
	it := indices.Iterator()
	for it.HasNext() {
		idx := it.Next()
		if _, bound := p.byIndex[idx]; bound {
			continue
		}
		if p.isFree(idx) || p.pending.Contains(idx) {
			continue
		}
		released.Add(idx)
	}
	p.pending.Or(released)
	return released
}

// Reclaim moves pending indices to the reuse list. Callers invoke it only
// after the inverted index has dropped every reference to them.
func (p *Provider) Reclaim(indices *roaring.Bitmap) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ready := roaring.And(p.pending, indices)
	if ready.IsEmpty() {
		return 0
	}
	p.pending.AndNot(ready)
	it := ready.Iterator()
	for it.HasNext() {
		idx := it.Next()
		if idx >= p.next {
			continue
		}
		p.free = append(p.free, idx)
	}
	// Reuse low indices first.
	sort.Slice(p.free, func(i, j int) bool { return p.free[i] > p.free[j] })
	p.logger.Debug("structure indices reclaimed", "count", ready.GetCardinality(), "free", len(p.free))
	return int(ready.GetCardinality())
}

func (p *Provider) isFree(idx uint32) bool {
	if idx >= p.next {
		return true
	}
	for _, f := range p.free {
		if f == idx {
			return true
		}
	}
	return false
}

// Known returns the indices currently bound to a structure.
func (p *Provider) Known() *roaring.Bitmap {
	p.mu.Lock()
	defer p.mu.Unlock()
	known := roaring.New()
	for idx := range p.byIndex {
		known.Add(idx)
	}
	return known
}

// Pending returns a copy of the released but not yet reclaimed indices.
func (p *Provider) Pending() *roaring.Bitmap {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Clone()
}

// Len is the number of bound structures.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// Snapshot is the persisted form of a Provider.
type Snapshot struct {
	Next     uint32            `json:"next"`
	Assigned map[string]uint32 `json:"assigned"`
	Free     []uint32          `json:"free"`
	Pending  []uint32          `json:"pending"`
}

func (p *Provider) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	assigned := make(map[string]uint32, len(p.byID))
	for id, idx := range p.byID {
		assigned[id] = idx
	}
	return Snapshot{
		Next:     p.next,
		Assigned: assigned,
		Free:     append([]uint32(nil), p.free...),
		Pending:  p.pending.ToArray(),
	}
}

// Restore replaces the provider's state with s after checking it is
// consistent: no index bound twice, and none both bound and free or pending.
func (p *Provider) Restore(s Snapshot) error {
	byID := make(map[string]uint32, len(s.Assigned))
	byIndex := make(map[uint32]string, len(s.Assigned))
	for id, idx := range s.Assigned {
		if idx >= s.Next {
			return apperrors.Newf(apperrors.ErrInvalidInput, "structure %q bound to %d beyond next %d", id, idx, s.Next)
		}
		if other, dup := byIndex[idx]; dup {
			return apperrors.Newf(apperrors.ErrInvalidInput, "index %d bound to both %q and %q", idx, other, id)
		}
		byID[id] = idx
		byIndex[idx] = id
	}
	pending := roaring.BitmapOf(s.Pending...)
	for _, idx := range s.Free {
		if _, bound := byIndex[idx]; bound || pending.Contains(idx) {
			return apperrors.Newf(apperrors.ErrInvalidInput, "free index %d is also in use", idx)
		}
	}
	for _, idx := range s.Pending {
		if _, bound := byIndex[idx]; bound {
			return apperrors.Newf(apperrors.ErrInvalidInput, "pending index %d is also bound", idx)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID = byID
	p.byIndex = byIndex
	p.next = s.Next
	p.free = append([]uint32(nil), s.Free...)
	p.pending = pending
	return nil
}
