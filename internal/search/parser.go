package search

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structure"
	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
)

// Selection is a parsed motif selection.
type Selection struct {
	Labels    []structure.ResidueLabel
	Exchanges map[structure.ResidueLabel][]descriptor.ResidueType
	Raw       string
}

// ParseSelection parses whitespace-separated residues, each optionally
// followed by "=" and a comma-separated list of accepted residue types:
//
//	A:42 A:57=HIS,ASN B:102@2
func ParseSelection(raw string) (*Selection, error) {
	sel := &Selection{
		Exchanges: make(map[structure.ResidueLabel][]descriptor.ResidueType),
		Raw:       raw,
	}
	for _, word := range strings.Fields(raw) {
		residue, exchange, hasExchange := strings.Cut(word, "=")
		label, err := structure.ParseResidueLabel(residue)
		if err != nil {
			return nil, err
		}
		sel.Labels = append(sel.Labels, label)
		if !hasExchange {
			continue
		}
		for _, component := range strings.Split(exchange, ",") {
			if component == "" {
				continue
			}
			t, err := descriptor.ParseResidueType(component)
			if err != nil || t == descriptor.Unknown {
				return nil, apperrors.Newf(apperrors.ErrInvalidInput, "residue %s: unknown residue type %q", residue, component)
			}
			sel.Exchanges[label] = append(sel.Exchanges[label], t)
		}
		if len(sel.Exchanges[label]) == 0 {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "residue %s: empty exchange list", residue)
		}
	}
	if len(sel.Labels) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "empty selection")
	}
	return sel, nil
}

// Query builds a query over s from the selection.
func (sel *Selection) Query(s *structure.Structure, opts ...QueryOption) (*Query, error) {
	opts = append(opts, WithExchanges(sel.Exchanges))
	return NewQuery(s, sel.Labels, opts...)
}
