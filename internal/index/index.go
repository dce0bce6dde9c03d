// Package index is the persistent inverted index from descriptor to bucket.
//
// On disk a data directory holds the live generation (gen-<n>.dat and
// gen-<n>.idx), a CURRENT pointer naming it, a batches/ directory of pending
// per-descriptor bucket files, and a stage/ directory where the next
// generation is written before it is swapped in. Production files are never
// modified in place.
package index

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/index/bucket"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/index/bundle"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	batchDir = "batches"
	stageDir = "stage"
	tmpExt   = ".tmp"
)

// Options configures an InvertedIndex.
type Options struct {
	Dir          string
	Workers      int
	CommitWindow int
	CacheSize    int
	Codec        *bucket.Codec
	Metrics      *metrics.Metrics
}

// OptionsFromConfig maps the index section of the configuration.
func OptionsFromConfig(cfg config.IndexConfig, m *metrics.Metrics) (Options, error) {
	compression, err := bucket.ParseCompression(cfg.Compression)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Dir:          cfg.DataDir,
		Workers:      cfg.Workers,
		CommitWindow: cfg.CommitWindow,
		CacheSize:    cfg.CacheSize,
		Codec:        bucket.NewCodec(compression, cfg.CompressionMinSize),
		Metrics:      m,
	}, nil
}

// InvertedIndex maps descriptor keys to buckets. Reads run concurrently with
// each other and with a commit or delete in progress; they observe either the
// generation before a swap or the one after it, never a mixture. Commit and
// Delete exclude each other.
type InvertedIndex struct {
	opts    Options
	codec   *bucket.Codec
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	reader *bundle.Reader
	gen    uint64
	cache  *lru.Cache[uint32, *bucket.Bucket]

	writeMu sync.Mutex

	corruptMu sync.Mutex
	corrupt   map[uint32]struct{}

	// beforeSwap runs after the next generation is fully written and before
	// it is installed. Tests use it to fail a write at the last moment.
	beforeSwap func() error
}

// Open prepares dir and loads the generation named by CURRENT. Leftovers of
// interrupted writes are discarded: the stage directory, generation files
// other than the live one, and pending batch files.
func Open(opts Options) (*InvertedIndex, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.CommitWindow <= 0 {
		opts.CommitWindow = 1024
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.Codec == nil {
		opts.Codec = bucket.NewCodec(bucket.CompressionNone, 0)
	}
	cache, err := lru.New[uint32, *bucket.Bucket](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating bucket cache: %w", err)
	}
	ix := &InvertedIndex{
		opts:    opts,
		codec:   opts.Codec,
		logger:  slog.Default().With("component", "inverted-index"),
		metrics: opts.Metrics,
		cache:   cache,
		corrupt: make(map[uint32]struct{}),
	}
	if err := os.MkdirAll(ix.batchPath(), 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	if err := os.RemoveAll(ix.stagePath()); err != nil {
		return nil, fmt.Errorf("discarding stage directory: %w", err)
	}

	gen, ok, err := bundle.ReadCurrent(opts.Dir)
	if err != nil {
		return nil, err
	}
	if err := ix.discardLeftovers(gen, ok); err != nil {
		return nil, err
	}
	if ok {
		r, err := bundle.Open(opts.Dir, gen)
		if err != nil {
			return nil, fmt.Errorf("opening generation %d: %w", gen, err)
		}
		ix.reader = r
		ix.gen = gen
	}
	ix.observeGeneration()
	ix.logger.Info("inverted index opened",
		"dir", opts.Dir,
		"generation", ix.gen,
		"descriptors", ix.descriptorCount(),
	)
	return ix, nil
}

func (ix *InvertedIndex) discardLeftovers(live uint64, hasLive bool) error {
	entries, err := os.ReadDir(ix.opts.Dir)
	if err != nil {
		return fmt.Errorf("reading index data directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		gen, isBundle := bundle.ParseName(name)
		stray := (isBundle && (!hasLive || gen != live)) || name == bundle.CurrentName+tmpExt
		if !stray {
			continue
		}
		ix.logger.Warn("discarding stray index file", "file", name)
		if err := os.Remove(filepath.Join(ix.opts.Dir, name)); err != nil {
			return fmt.Errorf("removing stray file %s: %w", name, err)
		}
	}

	discarded, err := ix.removeBatchFiles()
	if err != nil {
		return err
	}
	if discarded > 0 {
		ix.logger.Warn("discarded uncommitted batch files", "count", discarded)
	}
	return nil
}

func (ix *InvertedIndex) removeBatchFiles() (int, error) {
	batches, err := os.ReadDir(ix.batchPath())
	if err != nil {
		return 0, fmt.Errorf("reading batch directory: %w", err)
	}
	removed := 0
	for _, e := range batches {
		if filepath.Ext(e.Name()) != tmpExt {
			continue
		}
		if err := os.Remove(filepath.Join(ix.batchPath(), e.Name())); err != nil {
			return removed, fmt.Errorf("removing batch file %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func (ix *InvertedIndex) batchPath() string { return filepath.Join(ix.opts.Dir, batchDir) }
func (ix *InvertedIndex) stagePath() string { return filepath.Join(ix.opts.Dir, stageDir) }

// Select returns the bucket stored for d's key, or the empty bucket when the
// key is absent. Stored bytes that fail to decode are logged, counted and
// treated as empty so one bad bucket cannot abort a query.
func (ix *InvertedIndex) Select(d descriptor.Descriptor) (*bucket.Bucket, error) {
	key := d.Key()
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if b, ok := ix.cache.Get(key); ok {
		ix.countRead("cached")
		return b, nil
	}
	if ix.reader == nil {
		ix.countRead("absent")
		return bucket.Empty(), nil
	}
	blob, ok, err := ix.reader.Get(key)
	if err != nil {
		return nil, fmt.Errorf("reading bucket %v: %w", d.Canonical(), err)
	}
	if !ok {
		ix.countRead("absent")
		return bucket.Empty(), nil
	}
	b, err := ix.codec.Decode(blob)
	if err != nil {
		ix.markCorrupt(key, err)
		ix.countRead("corrupt")
		return bucket.Empty(), nil
	}
	ix.cache.Add(key, b)
	ix.countRead("loaded")
	return b, nil
}

func (ix *InvertedIndex) countRead(outcome string) {
	if ix.metrics != nil {
		ix.metrics.BucketReadsTotal.WithLabelValues(outcome).Inc()
	}
}

func (ix *InvertedIndex) markCorrupt(key uint32, err error) {
	ix.corruptMu.Lock()
	_, seen := ix.corrupt[key]
	ix.corrupt[key] = struct{}{}
	ix.corruptMu.Unlock()
	if seen {
		return
	}
	ix.logger.Error("corrupt bucket treated as empty",
		"key", fmt.Sprintf("%#07x", key),
		"generation", ix.gen,
		"error", err,
	)
	if ix.metrics != nil {
		ix.metrics.CorruptBucketsTotal.Inc()
	}
}

// CorruptDescriptors lists the descriptors whose buckets failed to decode in
// the live generation, in key order.
func (ix *InvertedIndex) CorruptDescriptors() []descriptor.Descriptor {
	ix.corruptMu.Lock()
	keys := make([]uint32, 0, len(ix.corrupt))
	for k := range ix.corrupt {
		keys = append(keys, k)
	}
	ix.corruptMu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]descriptor.Descriptor, 0, len(keys))
	for _, k := range keys {
		if d, err := descriptor.DescriptorFromKey(k); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// Generation is the number of the live generation; 0 before the first write.
func (ix *InvertedIndex) Generation() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.gen
}

// Stats summarises the live generation.
type Stats struct {
	Generation  uint64
	Descriptors int
	Corrupt     int
	CreatedAt   int64
	DataBytes   uint64
}

func (ix *InvertedIndex) Stats() Stats {
	ix.mu.RLock()
	s := Stats{Generation: ix.gen}
	if ix.reader != nil {
		h := ix.reader.Header()
		s.Descriptors = ix.reader.Len()
		s.CreatedAt = h.CreatedAt
		s.DataBytes = h.DataSize
	}
	ix.mu.RUnlock()
	ix.corruptMu.Lock()
	s.Corrupt = len(ix.corrupt)
	ix.corruptMu.Unlock()
	return s
}

func (ix *InvertedIndex) descriptorCount() int {
	if ix.reader == nil {
		return 0
	}
	return ix.reader.Len()
}

func (ix *InvertedIndex) observeGeneration() {
	if ix.metrics == nil {
		return
	}
	ix.metrics.IndexGeneration.Set(float64(ix.gen))
	ix.metrics.IndexedDescriptors.Set(float64(ix.descriptorCount()))
}

// Close releases the live generation's file handle.
func (ix *InvertedIndex) Close() error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.reader == nil {
		return nil
	}
	err := ix.reader.Close()
	ix.reader = nil
	ix.cache.Purge()
	return err
}
