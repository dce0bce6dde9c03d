package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/index/bucket"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/index/bundle"
	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
)

// produceFunc returns the blob the next generation stores under key (nil
// drops the key) and whether it differs from the live generation.
type produceFunc func(key uint32) (blob []byte, changed bool, err error)

// Commit merges every pending batch file, together with the live bucket of
// the same descriptor, into the next generation and swaps it in. Buckets no
// batch touched are copied byte for byte. Batch files are deleted only after
// the swap. A live bucket that fails to decode reads as empty, so the merge
// replaces it with the batch contents. If anything fails the live generation
// stays as it was and the batch files remain for a retry.
func (ix *InvertedIndex) Commit(ctx context.Context) error {
	if !ix.writeMu.TryLock() {
		return apperrors.New(apperrors.ErrWriteInProgress, "commit")
	}
	defer ix.writeMu.Unlock()

	start := time.Now()
	pending, err := ix.pendingBatches()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	live := ix.liveReader()
	keySet := make(map[uint32]struct{}, len(pending))
	for k := range pending {
		keySet[k] = struct{}{}
	}
	if live != nil {
		for _, k := range live.Keys() {
			keySet[k] = struct{}{}
		}
	}
	keys := sortedKeys(keySet)

	produce := func(key uint32) ([]byte, bool, error) {
		files, touched := pending[key]
		if !touched {
			blob, _, err := live.Get(key)
			return blob, false, err
		}
		parts := make([]*bucket.Bucket, 0, len(files)+1)
		if live != nil {
			blob, ok, err := live.Get(key)
			if err != nil {
				return nil, false, err
			}
			if ok {
				b, err := ix.codec.Decode(blob)
				if err != nil {
					ix.markCorrupt(key, err)
				} else {
					parts = append(parts, b)
				}
			}
		}
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, false, fmt.Errorf("reading batch file: %w", err)
			}
			b, err := ix.codec.Decode(data)
			if err != nil {
				return nil, false, fmt.Errorf("batch file %s: %w", filepath.Base(path), err)
			}
			parts = append(parts, b)
		}
		merged := bucket.Merge(parts...)
		if merged.IsEmpty() {
			return nil, true, nil
		}
		blob, err := ix.codec.Encode(merged)
		return blob, true, err
	}

	_, err = ix.rewrite(ctx, keys, produce)
	ix.observeWrite("commit", start, err)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	removed := 0
	for _, files := range pending {
		for _, path := range files {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				ix.logger.Warn("failed to remove committed batch file", "file", path, "error", err)
				continue
			}
			removed++
		}
	}
	ix.logger.Info("commit complete",
		"generation", ix.Generation(),
		"touched_descriptors", len(pending),
		"batch_files", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Delete removes every structure in structures from the index. Each bucket
// holding one of them is rewritten without it, or dropped when nothing is
// left; all others are copied unchanged, including buckets that fail to
// decode, which stay listed by CorruptDescriptors. When no bucket references
// any of the structures the live generation is kept as is.
func (ix *InvertedIndex) Delete(ctx context.Context, structures *roaring.Bitmap) error {
	if !ix.writeMu.TryLock() {
		return apperrors.New(apperrors.ErrWriteInProgress, "delete")
	}
	defer ix.writeMu.Unlock()

	live := ix.liveReader()
	if live == nil || structures == nil || structures.IsEmpty() {
		return nil
	}
	start := time.Now()

	var (
		carriedMu sync.Mutex
		carried   []uint32
	)
	produce := func(key uint32) ([]byte, bool, error) {
		blob, _, err := live.Get(key)
		if err != nil {
			return nil, false, err
		}
		b, err := ix.codec.Decode(blob)
		if err != nil {
			ix.markCorrupt(key, err)
			carriedMu.Lock()
			carried = append(carried, key)
			carriedMu.Unlock()
			return blob, false, nil
		}
		rest, changed := b.Without(structures)
		if !changed {
			return blob, false, nil
		}
		if rest.IsEmpty() {
			return nil, true, nil
		}
		out, err := ix.codec.Encode(rest)
		return out, true, err
	}

	changed, err := ix.rewrite(ctx, live.Keys(), produce)
	ix.observeWrite("delete", start, err)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if changed {
		ix.keepCorrupt(carried)
	}
	ix.logger.Info("delete complete",
		"structures", structures.GetCardinality(),
		"changed", changed,
		"corrupt_carried", len(carried),
		"generation", ix.Generation(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// rewrite writes the next generation over keys in windows of CommitWindow
// descriptors, each window spread over the worker pool, and swaps it in when
// at least one key changed.
func (ix *InvertedIndex) rewrite(ctx context.Context, keys []uint32, produce produceFunc) (bool, error) {
	next := ix.Generation() + 1
	w, err := bundle.NewWriter(ix.stagePath(), next)
	if err != nil {
		return false, err
	}
	defer w.Abort()

	changed := false
	window := ix.opts.CommitWindow
	for lo := 0; lo < len(keys); lo += window {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		chunk := keys[lo:min(lo+window, len(keys))]
		blobs := make([][]byte, len(chunk))
		flags := make([]bool, len(chunk))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(ix.opts.Workers)
		for i, key := range chunk {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				blob, ch, err := produce(key)
				if err != nil {
					return err
				}
				blobs[i], flags[i] = blob, ch
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return false, err
		}
		for i, key := range chunk {
			changed = changed || flags[i]
			if len(blobs[i]) == 0 {
				continue
			}
			if err := w.Append(key, blobs[i]); err != nil {
				return false, err
			}
		}
	}
	if !changed {
		return false, nil
	}
	if err := w.Finish(); err != nil {
		return false, err
	}
	if ix.beforeSwap != nil {
		if err := ix.beforeSwap(); err != nil {
			return false, err
		}
	}
	return true, ix.swap(next)
}

// swap installs generation next and points CURRENT at it. Until CURRENT is
// replaced the live generation is untouched.
func (ix *InvertedIndex) swap(next uint64) error {
	dir := ix.opts.Dir
	if err := bundle.Install(ix.stagePath(), dir, next); err != nil {
		bundle.Remove(dir, next)
		return err
	}
	r, err := bundle.Open(dir, next)
	if err != nil {
		bundle.Remove(dir, next)
		return fmt.Errorf("reopening generation %d: %w", next, err)
	}
	if err := bundle.WriteCurrent(dir, next); err != nil {
		if gen, ok, _ := bundle.ReadCurrent(dir); !ok || gen != next {
			r.Close()
			bundle.Remove(dir, next)
			return err
		}
		ix.logger.Warn("pointer swapped but not synced", "generation", next, "error", err)
	}

	ix.mu.Lock()
	old, oldGen := ix.reader, ix.gen
	ix.reader, ix.gen = r, next
	ix.cache.Purge()
	ix.mu.Unlock()

	ix.corruptMu.Lock()
	clear(ix.corrupt)
	ix.corruptMu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			ix.logger.Warn("closing previous generation", "generation", oldGen, "error", err)
		}
		if err := bundle.Remove(dir, oldGen); err != nil {
			ix.logger.Warn("removing previous generation", "generation", oldGen, "error", err)
		}
	}
	ix.observeGeneration()
	return nil
}

// keepCorrupt re-registers keys whose undecodable blobs were copied into the
// generation that swap just installed.
func (ix *InvertedIndex) keepCorrupt(keys []uint32) {
	if len(keys) == 0 {
		return
	}
	ix.corruptMu.Lock()
	for _, k := range keys {
		ix.corrupt[k] = struct{}{}
	}
	ix.corruptMu.Unlock()
}

// DiscardBatches drops every flushed but uncommitted batch file and returns
// how many were removed.
func (ix *InvertedIndex) DiscardBatches() (int, error) {
	if !ix.writeMu.TryLock() {
		return 0, apperrors.New(apperrors.ErrWriteInProgress, "discard batches")
	}
	defer ix.writeMu.Unlock()
	n, err := ix.removeBatchFiles()
	if n > 0 {
		ix.logger.Info("batch files discarded", "count", n)
	}
	return n, err
}

func (ix *InvertedIndex) liveReader() *bundle.Reader {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.reader
}

func (ix *InvertedIndex) pendingBatches() (map[uint32][]string, error) {
	entries, err := os.ReadDir(ix.batchPath())
	if err != nil {
		return nil, fmt.Errorf("reading batch directory: %w", err)
	}
	pending := make(map[uint32][]string)
	for _, e := range entries {
		key, ok := parseBatchFileName(e.Name())
		if !ok {
			continue
		}
		pending[key] = append(pending[key], filepath.Join(ix.batchPath(), e.Name()))
	}
	return pending, nil
}

func (ix *InvertedIndex) observeWrite(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		ix.logger.Error("index write failed", "op", op, "error", err)
	}
	if ix.metrics == nil {
		return
	}
	ix.metrics.IndexWritesTotal.WithLabelValues(op, status).Inc()
	ix.metrics.IndexWriteDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ReportKnownDescriptors lists every descriptor with a bucket in the live
// generation, in key order.
func (ix *InvertedIndex) ReportKnownDescriptors() ([]descriptor.Descriptor, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.reader == nil {
		return nil, nil
	}
	keys := ix.reader.Keys()
	out := make([]descriptor.Descriptor, 0, len(keys))
	for _, k := range keys {
		d, err := descriptor.DescriptorFromKey(k)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrCorruptBundle, "generation %d holds invalid key %#x: %v", ix.gen, k, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// ReportKnownKeys scans every bucket and returns the set of structure
// indices referenced anywhere in the index. Undecodable buckets are skipped
// and reported through CorruptDescriptors.
func (ix *InvertedIndex) ReportKnownKeys(ctx context.Context) (*roaring.Bitmap, error) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	known := roaring.New()
	live := ix.liveReader()
	if live == nil {
		return known, nil
	}
	keys := live.Keys()
	var mu sync.Mutex
	window := ix.opts.CommitWindow
	for lo := 0; lo < len(keys); lo += window {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(ix.opts.Workers)
		for _, key := range keys[lo:min(lo+window, len(keys))] {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				blob, _, err := live.Get(key)
				if err != nil {
					return err
				}
				b, err := ix.codec.Decode(blob)
				if err != nil {
					ix.markCorrupt(key, err)
					return nil
				}
				set := b.StructureSet()
				mu.Lock()
				known.Or(set)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return known, nil
}

func sortedKeys(set map[uint32]struct{}) []uint32 {
	keys := make([]uint32, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
