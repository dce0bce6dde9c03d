package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/index/bucket"
	"github.com/google/uuid"
)

// Batch accumulates occurrences in memory and writes them out as pending
// bucket files, one per descriptor. Production data is untouched until
// Commit. A Batch is safe for concurrent use.
type Batch struct {
	ix       *InvertedIndex
	id       string
	mu       sync.Mutex
	builders map[uint32]*bucket.Builder
	files    int
}

// NewBatch starts an empty batch.
func (ix *InvertedIndex) NewBatch() *Batch {
	return &Batch{
		ix:       ix,
		id:       uuid.NewString(),
		builders: make(map[uint32]*bucket.Builder),
	}
}

func (b *Batch) ID() string {
	return b.id
}

// Add records the occurrences of one structure. Identifiers are stored in
// canonical order under the descriptor's key.
func (b *Batch) Add(structure uint32, occs []descriptor.Occurrence) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, occ := range occs {
		key := occ.Descriptor.Key()
		bb, ok := b.builders[key]
		if !ok {
			bb = bucket.NewBuilder()
			b.builders[key] = bb
		}
		bb.Add(structure, occ.Canonical())
	}
}

// Len is the number of distinct descriptors waiting to be flushed.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.builders)
}

// Files is the number of pending files this batch has written.
func (b *Batch) Files() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.files
}

// Flush writes one pending file per buffered descriptor and clears the
// buffer. Flushing an empty batch does nothing.
func (b *Batch) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.builders) == 0 {
		return nil
	}
	flushID := uuid.NewString()
	for key, bb := range b.builders {
		data, err := b.ix.codec.Encode(bb.Build())
		if err != nil {
			return fmt.Errorf("encoding batch bucket %#07x: %w", key, err)
		}
		path := filepath.Join(b.ix.batchPath(), batchFileName(key, flushID))
		if err := writeSynced(path, data); err != nil {
			return fmt.Errorf("writing batch file: %w", err)
		}
		delete(b.builders, key)
		b.files++
	}
	b.ix.logger.Debug("batch flushed", "batch_id", b.id, "files", b.files)
	return nil
}

func batchFileName(key uint32, flushID string) string {
	return fmt.Sprintf("%08x.%s%s", key, flushID, tmpExt)
}

func parseBatchFileName(name string) (uint32, bool) {
	if !strings.HasSuffix(name, tmpExt) {
		return 0, false
	}
	head, _, ok := strings.Cut(name, ".")
	if !ok || len(head) != 8 {
		return 0, false
	}
	key, err := strconv.ParseUint(head, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(key), true
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
