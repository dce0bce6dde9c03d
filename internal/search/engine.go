package search

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/index/bucket"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/tracing"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// BucketSource is the read side of the inverted index.
type BucketSource interface {
	Select(d descriptor.Descriptor) (*bucket.Bucket, error)
	Generation() uint64
}

// StructureNames resolves structure indices to identifiers.
type StructureNames interface {
	Identifier(index uint32) (string, bool)
}

// Hit is one residue assignment in one structure.
type Hit struct {
	StructureID    string `json:"structure_id"`
	StructureIndex uint32 `json:"structure_index"`
	// Residues are the matched residues, in query residue order.
	Residues []descriptor.ResidueRef `json:"residues"`
	// Descriptors are the matched stored descriptors, one per path step.
	Descriptors []descriptor.Descriptor `json:"descriptors"`
	Score       int                     `json:"score"`
}

// Result is the outcome of one search.
type Result struct {
	Hits []Hit `json:"hits"`
	// Total counts hits before the MaxResults cap.
	Total int `json:"total"`
	// Truncated is set when the time budget ran out before every candidate
	// structure was joined.
	Truncated  bool   `json:"truncated"`
	Candidates int    `json:"candidates"`
	Structures int    `json:"structures"`
	Generation uint64 `json:"generation"`
}

// EngineConfig tunes an Engine.
type EngineConfig struct {
	Workers int
	Timeout time.Duration
	Trace   bool
	Metrics *metrics.Metrics
	Cache   *ResultCache
}

// EngineConfigFromConfig maps the search and tracing sections.
func EngineConfigFromConfig(cfg *config.Config, m *metrics.Metrics) EngineConfig {
	return EngineConfig{
		Workers: cfg.Search.Workers,
		Timeout: cfg.Search.Timeout,
		Trace:   cfg.Tracing.Enabled,
		Metrics: m,
	}
}

type Engine struct {
	index BucketSource
	names StructureNames
	cfg   EngineConfig
}

func NewEngine(index BucketSource, names StructureNames, cfg EngineConfig) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Engine{
		index: index,
		names: names,
		cfg:   cfg,
	}
}

// Search runs q. When the time budget expires the hits joined so far are
// returned with Truncated set. Only cancellation of ctx itself is an error.
func (e *Engine) Search(ctx context.Context, q *Query) (*Result, error) {
	start := time.Now()
	ctx = logger.WithQueryID(ctx, uuid.NewString())
	var root *tracing.Span
	if e.cfg.Trace {
		ctx, root = tracing.StartSpan(ctx, "motif_search", "")
		root.SetAttr("structure_id", q.StructureID)
		root.SetAttr("residues", q.Size())
		defer func() {
			root.End()
			root.Log(logger.FromContext(ctx))
		}()
	}

	cacheStatus := "disabled"
	var res *Result
	var err error
	if e.cfg.Cache != nil {
		var hit bool
		res, hit, err = e.cfg.Cache.GetOrCompute(ctx, q, e.index.Generation(), func() (*Result, error) {
			return e.run(ctx, q)
		})
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	} else {
		res, err = e.run(ctx, q)
	}
	e.observe(start, cacheStatus, res, err)
	if err != nil {
		return nil, err
	}
	root.SetAttr("hits", len(res.Hits))
	root.SetAttr("truncated", res.Truncated)
	return res, nil
}

func (e *Engine) observe(start time.Time, cacheStatus string, res *Result, err error) {
	m := e.cfg.Metrics
	if m == nil {
		return
	}
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	switch {
	case err != nil && apperrors.IsQueryDefinition(err):
		m.SearchQueriesTotal.WithLabelValues("rejected").Inc()
	case err != nil:
		m.SearchQueriesTotal.WithLabelValues("error").Inc()
	case res.Truncated:
		m.SearchQueriesTotal.WithLabelValues("truncated").Inc()
		m.SearchHitsCount.Observe(float64(len(res.Hits)))
	default:
		m.SearchQueriesTotal.WithLabelValues("complete").Inc()
		m.SearchHitsCount.Observe(float64(len(res.Hits)))
	}
}

func (e *Engine) run(ctx context.Context, q *Query) (*Result, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	res := &Result{Generation: e.index.Generation(), Hits: []Hit{}}
	log := logger.FromContext(ctx).With("component", "search-engine")

	steps, candidates, err := e.fetch(ctx, q)
	if err != nil {
		if expired(ctx) {
			res.Truncated = true
			return res, nil
		}
		return nil, err
	}
	res.Candidates = candidates
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.CandidateDescriptors.Observe(float64(candidates))
	}

	_, span := tracing.StartChildSpan(ctx, "join")
	structures := prefilter(steps)
	res.Structures = int(structures.GetCardinality())
	span.SetAttr("structures", res.Structures)

	var hits []Hit
	stopped := false
	it := structures.Iterator()
	for it.HasNext() {
		if ctx.Err() != nil {
			stopped = true
			break
		}
		s := it.Next()
		found, complete := join(ctx, q, steps, s)
		if !complete {
			stopped = true
			break
		}
		if len(found) == 0 {
			continue
		}
		id, ok := e.names.Identifier(s)
		if !ok {
			// Released but not yet deleted from the index.
			continue
		}
		for i := range found {
			found[i].StructureID = id
		}
		hits = append(hits, found...)
	}
	span.End()

	if stopped {
		if !expired(ctx) {
			return nil, ctx.Err()
		}
		res.Truncated = true
		log.Warn("search time budget exhausted",
			"structure_id", q.StructureID,
			"budget", e.cfg.Timeout,
			"hits_so_far", len(hits),
		)
	}
	res.Total = len(hits)
	res.Hits = Rank(hits, q.MaxResults)
	log.Debug("search finished",
		"structure_id", q.StructureID,
		"candidates", candidates,
		"structures", res.Structures,
		"hits", res.Total,
	)
	return res, nil
}

func expired(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

type candidate struct {
	scored descriptor.ScoredDescriptor
	bucket *bucket.Bucket
}

// step is one path edge: the query slots of its two residues in occurrence
// order, and every non-empty candidate bucket.
type step struct {
	first, second int
	candidates    []candidate
}

// fetch expands every path step and loads the buckets of all distinct keys
// in parallel. A descriptor and its flipped mirror share a bucket.
func (e *Engine) fetch(ctx context.Context, q *Query) ([]step, int, error) {
	ctx, span := tracing.StartChildSpan(ctx, "fetch")
	defer span.End()

	expanded := make([][]descriptor.ScoredDescriptor, len(q.Path))
	keySlot := make(map[uint32]int)
	var keys []descriptor.Descriptor
	total := 0
	for i, occ := range q.Path {
		sds, err := Expand(occ, q.Tolerances, q.Exchanges)
		if err != nil {
			return nil, 0, err
		}
		expanded[i] = sds
		total += len(sds)
		for _, sd := range sds {
			k := sd.Descriptor.Key()
			if _, ok := keySlot[k]; !ok {
				keySlot[k] = len(keys)
				keys = append(keys, sd.Descriptor.Canonical())
			}
		}
	}

	buckets := make([]*bucket.Bucket, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, d := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := e.index.Select(d)
			if err != nil {
				return fmt.Errorf("selecting %v: %w", d, err)
			}
			buckets[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	span.SetAttr("descriptors", total)
	span.SetAttr("buckets", len(keys))

	steps := make([]step, len(q.Path))
	for i, occ := range q.Path {
		st := step{
			first:  q.slot(occ.Identifier.First()),
			second: q.slot(occ.Identifier.Second()),
		}
		for _, sd := range expanded[i] {
			b := buckets[keySlot[sd.Descriptor.Key()]]
			if b.IsEmpty() {
				continue
			}
			st.candidates = append(st.candidates, candidate{scored: sd, bucket: b})
		}
		steps[i] = st
	}
	return steps, total, nil
}

// prefilter keeps the structures present in some candidate bucket of every
// step.
func prefilter(steps []step) *roaring.Bitmap {
	var out *roaring.Bitmap
	for _, st := range steps {
		union := roaring.New()
		for _, c := range st.candidates {
			union.Or(c.bucket.StructureSet())
		}
		if out == nil {
			out = union
		} else {
			out.And(union)
		}
		if out.IsEmpty() {
			break
		}
	}
	if out == nil {
		return roaring.New()
	}
	return out
}

type partial struct {
	residues    []descriptor.ResidueRef
	assigned    []bool
	descriptors []descriptor.Descriptor
	score       int
}

func (p *partial) accepts(slot int, r descriptor.ResidueRef) bool {
	if p.assigned[slot] {
		return p.residues[slot] == r
	}
	for i, other := range p.residues {
		if p.assigned[i] && other == r {
			return false
		}
	}
	return true
}

func (p *partial) extend(first, second int, a, b descriptor.ResidueRef, sd descriptor.ScoredDescriptor) partial {
	next := partial{
		residues:    append([]descriptor.ResidueRef(nil), p.residues...),
		assigned:    append([]bool(nil), p.assigned...),
		descriptors: append(append([]descriptor.Descriptor(nil), p.descriptors...), sd.Descriptor),
		score:       p.score + sd.Score,
	}
	next.residues[first], next.assigned[first] = a, true
	next.residues[second], next.assigned[second] = b, true
	return next
}

func (p *partial) key(buf []byte) []byte {
	buf = buf[:0]
	for i, r := range p.residues {
		if !p.assigned[i] {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		buf = binary.AppendUvarint(buf, uint64(r.Index))
		buf = binary.AppendUvarint(buf, uint64(r.Operator))
	}
	return buf
}

// join extends residue assignments in structure s along the path. complete
// is false when ctx expired between steps, in which case the structure's
// partial results are dropped.
func join(ctx context.Context, q *Query, steps []step, s uint32) (hits []Hit, complete bool) {
	n := q.Size()
	partials := []partial{{
		residues: make([]descriptor.ResidueRef, n),
		assigned: make([]bool, n),
	}}
	var buf []byte
	for _, st := range steps {
		if ctx.Err() != nil {
			return nil, false
		}
		best := make(map[string]int)
		var next []partial
		for pi := range partials {
			p := &partials[pi]
			for _, c := range st.candidates {
				ids := c.bucket.IdentifiersFor(s)
				flipped := c.scored.Descriptor.Flipped()
				symmetric := c.scored.Descriptor.Symmetric()
				for _, id := range ids {
					a, b := id.First(), id.Second()
					if flipped {
						a, b = b, a
					}
					orientations := [][2]descriptor.ResidueRef{{a, b}}
					if symmetric {
						orientations = append(orientations, [2]descriptor.ResidueRef{b, a})
					}
					for _, o := range orientations {
						if !p.accepts(st.first, o[0]) || !p.accepts(st.second, o[1]) || o[0] == o[1] {
							continue
						}
						cand := p.extend(st.first, st.second, o[0], o[1], c.scored)
						buf = cand.key(buf)
						if i, seen := best[string(buf)]; seen {
							if cand.score < next[i].score {
								next[i] = cand
							}
							continue
						}
						best[string(buf)] = len(next)
						next = append(next, cand)
					}
				}
			}
		}
		if len(next) == 0 {
			return nil, true
		}
		partials = next
	}

	hits = make([]Hit, 0, len(partials))
	for _, p := range partials {
		hits = append(hits, Hit{
			StructureIndex: s,
			Residues:       p.residues,
			Descriptors:    p.descriptors,
			Score:          p.score,
		})
	}
	return hits, true
}
