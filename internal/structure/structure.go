// Package structure models the macromolecular structures that are indexed and
// queried: residues with a type and two anchor points, grouped per structure,
// plus the residue-graph builder that turns them into descriptor occurrences.
package structure

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// IdentityOperator names the untransformed asymmetric unit.
const IdentityOperator = "1"

// ResidueLabel is the author-facing name of a residue: chain, sequence
// position and the symmetry operator it was generated by.
type ResidueLabel struct {
	Chain    string
	Seq      int
	Operator string
}

// ParseResidueLabel parses "A:42" or "A:42@2".
func ParseResidueLabel(s string) (ResidueLabel, error) {
	s = strings.TrimSpace(s)
	var l ResidueLabel
	if at := strings.LastIndexByte(s, '@'); at >= 0 {
		l.Operator = s[at+1:]
		s = s[:at]
		if l.Operator == "" {
			return l, apperrors.Newf(apperrors.ErrInvalidInput, "residue label %q has an empty operator", s)
		}
	}
	chain, seq, ok := strings.Cut(s, ":")
	if !ok || chain == "" {
		return l, apperrors.Newf(apperrors.ErrInvalidInput, "residue label %q is not chain:seq", s)
	}
	n, err := strconv.Atoi(seq)
	if err != nil {
		return l, apperrors.Newf(apperrors.ErrInvalidInput, "residue label %q has a bad sequence number", s)
	}
	l.Chain, l.Seq = chain, n
	return l, nil
}

func (l ResidueLabel) operator() string {
	if l.Operator == "" {
		return IdentityOperator
	}
	return l.Operator
}

func (l ResidueLabel) String() string {
	if l.operator() == IdentityOperator {
		return fmt.Sprintf("%s:%d", l.Chain, l.Seq)
	}
	return fmt.Sprintf("%s:%d@%s", l.Chain, l.Seq, l.Operator)
}

// Residue is one residue instance: a residue of the asymmetric unit under one
// operator, with coordinates already transformed.
type Residue struct {
	Label     ResidueLabel
	Type      descriptor.ResidueType
	Backbone  r3.Vec
	SideChain r3.Vec
}

type unitKey struct {
	chain string
	seq   int
}

// Structure is an immutable set of residue instances. Residue positions
// (ResidueRef.Index) number the distinct chain/sequence pairs in order of
// first appearance; ResidueRef.Operator is the position of the operator name
// in Operators, with the identity operator first.
type Structure struct {
	ID        string
	Operators []string
	Residues  []Residue

	units     map[unitKey]uint32
	labels    []unitKey
	operators map[string]uint16
	byRef     map[descriptor.ResidueRef]int
}

// New validates the residues and builds the label and position lookups.
func New(id string, operators []string, residues []Residue) (*Structure, error) {
	if id == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "structure without identifier")
	}
	ops := []string{IdentityOperator}
	for _, op := range operators {
		if op != IdentityOperator && op != "" {
			ops = append(ops, op)
		}
	}
	if len(ops) > descriptor.MaxOperator+1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "structure %s has %d operators", id, len(ops))
	}
	s := &Structure{
		ID:        id,
		Operators: ops,
		Residues:  residues,
		units:     make(map[unitKey]uint32),
		operators: make(map[string]uint16, len(ops)),
		byRef:     make(map[descriptor.ResidueRef]int, len(residues)),
	}
	for i, op := range ops {
		if _, dup := s.operators[op]; dup {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "structure %s lists operator %q twice", id, op)
		}
		s.operators[op] = uint16(i)
	}
	for i, r := range residues {
		op, ok := s.operators[r.Label.operator()]
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "structure %s residue %v uses undeclared operator", id, r.Label)
		}
		key := unitKey{r.Label.Chain, r.Label.Seq}
		idx, ok := s.units[key]
		if !ok {
			idx = uint32(len(s.labels))
			if idx > descriptor.MaxResidueIndex {
				return nil, apperrors.Newf(apperrors.ErrInvalidInput, "structure %s has too many residues", id)
			}
			s.units[key] = idx
			s.labels = append(s.labels, key)
		}
		ref := descriptor.ResidueRef{Index: idx, Operator: op}
		if _, dup := s.byRef[ref]; dup {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "structure %s lists residue %v twice", id, r.Label)
		}
		s.byRef[ref] = i
	}
	return s, nil
}

// Ref resolves a label to its residue reference.
func (s *Structure) Ref(l ResidueLabel) (descriptor.ResidueRef, error) {
	op, ok := s.operators[l.operator()]
	if !ok {
		return descriptor.ResidueRef{}, apperrors.Newf(apperrors.ErrUnknownResidue, "%s has no operator %q", s.ID, l.operator())
	}
	idx, ok := s.units[unitKey{l.Chain, l.Seq}]
	if !ok {
		return descriptor.ResidueRef{}, apperrors.Newf(apperrors.ErrUnknownResidue, "%s has no residue %v", s.ID, l)
	}
	ref := descriptor.ResidueRef{Index: idx, Operator: op}
	if _, ok := s.byRef[ref]; !ok {
		return descriptor.ResidueRef{}, apperrors.Newf(apperrors.ErrUnknownResidue, "%s has no residue %v", s.ID, l)
	}
	return ref, nil
}

// Label names the residue at ref.
func (s *Structure) Label(ref descriptor.ResidueRef) (ResidueLabel, bool) {
	if int(ref.Index) >= len(s.labels) || int(ref.Operator) >= len(s.Operators) {
		return ResidueLabel{}, false
	}
	u := s.labels[ref.Index]
	l := ResidueLabel{Chain: u.chain, Seq: u.seq}
	if ref.Operator != 0 {
		l.Operator = s.Operators[ref.Operator]
	}
	return l, true
}

// Residue returns the residue instance at ref.
func (s *Structure) Residue(ref descriptor.ResidueRef) (Residue, bool) {
	i, ok := s.byRef[ref]
	if !ok {
		return Residue{}, false
	}
	return s.Residues[i], true
}

// RefAt returns the reference of the i-th residue instance.
func (s *Structure) RefAt(i int) descriptor.ResidueRef {
	r := s.Residues[i]
	return descriptor.ResidueRef{
		Index:    s.units[unitKey{r.Label.Chain, r.Label.Seq}],
		Operator: s.operators[r.Label.operator()],
	}
}
