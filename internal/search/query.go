// Package search turns a motif (a handful of residues of one structure) into
// the set of archived structures holding a compatible arrangement.
//
// A Query fixes the motif's residue pairs and orders them into a connected
// path. The Engine expands every path step into candidate descriptors within
// the query's tolerances, fetches their buckets, and joins the stored residue
// pairs step by step into complete residue assignments.
package search

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structure"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
)

const (
	DefaultMaxMotifSize = 10
	DefaultMaxResults   = 10000
)

// Query is a validated motif ready to run.
type Query struct {
	StructureID string
	Labels      []structure.ResidueLabel
	// Refs holds the motif residues in the order the caller listed them.
	// Hits report matched residues in the same order.
	Refs       []descriptor.ResidueRef
	Path       []descriptor.Occurrence
	Tolerances Tolerances
	Exchanges  Exchanges
	MaxResults int

	slots map[descriptor.ResidueRef]int
}

type queryOptions struct {
	tolerances   Tolerances
	exchanges    map[structure.ResidueLabel][]descriptor.ResidueType
	maxMotifSize int
	maxResults   int
	cutoff       float64
}

// QueryOption customises NewQuery.
type QueryOption func(*queryOptions)

func WithTolerances(t Tolerances) QueryOption {
	return func(o *queryOptions) { o.tolerances = t }
}

// WithExchanges sets the accepted residue types per motif residue.
func WithExchanges(ex map[structure.ResidueLabel][]descriptor.ResidueType) QueryOption {
	return func(o *queryOptions) { o.exchanges = ex }
}

func WithMaxMotifSize(n int) QueryOption {
	return func(o *queryOptions) { o.maxMotifSize = n }
}

func WithMaxResults(n int) QueryOption {
	return func(o *queryOptions) { o.maxResults = n }
}

// WithDistanceCutoff sets the backbone distance under which two motif
// residues form a pair.
func WithDistanceCutoff(c float64) QueryOption {
	return func(o *queryOptions) { o.cutoff = c }
}

// WithSearchConfig applies the configured limits and default tolerances.
func WithSearchConfig(cfg config.SearchConfig) QueryOption {
	return func(o *queryOptions) {
		o.tolerances = Tolerances{
			Backbone:  cfg.Tolerances.Backbone,
			SideChain: cfg.Tolerances.SideChain,
			Angle:     cfg.Tolerances.Angle,
		}
		o.maxMotifSize = cfg.MaxMotifSize
		o.maxResults = cfg.MaxResults
		o.cutoff = cfg.DistanceCutoff
	}
}

// NewQuery resolves labels against s, builds the residue pairs among them
// and assembles the search path. All failures are query-definition errors
// (see apperrors.IsQueryDefinition) or ErrInvalidInput.
func NewQuery(s *structure.Structure, labels []structure.ResidueLabel, opts ...QueryOption) (*Query, error) {
	o := queryOptions{
		maxMotifSize: DefaultMaxMotifSize,
		maxResults:   DefaultMaxResults,
		cutoff:       structure.DefaultCutoff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.tolerances.validate(); err != nil {
		return nil, err
	}
	if len(labels) < 2 {
		return nil, apperrors.Newf(apperrors.ErrMotifTooSmall, "%d residues given", len(labels))
	}
	if len(labels) > o.maxMotifSize {
		return nil, apperrors.Newf(apperrors.ErrMotifTooLarge, "%d residues given, at most %d allowed", len(labels), o.maxMotifSize)
	}

	q := &Query{
		StructureID: s.ID,
		Labels:      append([]structure.ResidueLabel(nil), labels...),
		Refs:        make([]descriptor.ResidueRef, len(labels)),
		Tolerances:  o.tolerances,
		Exchanges:   make(Exchanges),
		MaxResults:  o.maxResults,
		slots:       make(map[descriptor.ResidueRef]int, len(labels)),
	}
	if q.MaxResults <= 0 {
		q.MaxResults = math.MaxInt
	}
	for i, l := range labels {
		ref, err := s.Ref(l)
		if err != nil {
			return nil, err
		}
		if _, dup := q.slots[ref]; dup {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "residue %v selected twice", l)
		}
		q.Refs[i] = ref
		q.slots[ref] = i
	}
	for l, types := range o.exchanges {
		ref, err := s.Ref(l)
		if err != nil {
			return nil, err
		}
		if _, ok := q.slots[ref]; !ok {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "exchange for %v, which is not part of the motif", l)
		}
		if len(types) == 0 {
			continue
		}
		seen := make(map[descriptor.ResidueType]struct{}, len(types))
		for _, t := range types {
			if t == descriptor.Unknown || !t.Valid() {
				return nil, apperrors.Newf(apperrors.ErrInvalidInput, "exchange for %v lists residue type %v", l, t)
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			q.Exchanges[ref] = append(q.Exchanges[ref], t)
		}
	}

	occs, err := structure.GraphBuilder{Cutoff: o.cutoff}.BuildSubset(s, q.Refs)
	if err != nil {
		return nil, err
	}
	q.Path, err = AssemblePath(occs, q.Exchanges, len(q.Refs))
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Size is the number of motif residues.
func (q *Query) Size() int { return len(q.Refs) }

func (q *Query) slot(ref descriptor.ResidueRef) int {
	return q.slots[ref]
}
