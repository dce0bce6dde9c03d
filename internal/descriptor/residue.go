// Package descriptor encodes residue pairs into the compact integer keys the
// inverted index is built on. A Descriptor captures the residue types and the
// binned geometry of a pair; an Identifier names the concrete residues that
// realise it inside one structure.
package descriptor

import (
	"fmt"
	"strings"
)

// ResidueType is the discrete classification of a residue.
type ResidueType uint8

const (
	Unknown ResidueType = iota
	Alanine
	Arginine
	Asparagine
	AsparticAcid
	Cysteine
	Glutamine
	GlutamicAcid
	Glycine
	Histidine
	Isoleucine
	Leucine
	Lysine
	Methionine
	Phenylalanine
	Proline
	Serine
	Threonine
	Tryptophan
	Tyrosine
	Valine
	Adenosine
	Cytidine
	Guanosine
	Uridine
	Deoxyadenosine
	Deoxycytidine
	Deoxyguanosine
	Deoxythymidine

	numResidueTypes
)

type residueInfo struct {
	component string
	oneLetter byte
}

var residueTable = [numResidueTypes]residueInfo{
	Unknown:        {"UNK", 'X'},
	Alanine:        {"ALA", 'A'},
	Arginine:       {"ARG", 'R'},
	Asparagine:     {"ASN", 'N'},
	AsparticAcid:   {"ASP", 'D'},
	Cysteine:       {"CYS", 'C'},
	Glutamine:      {"GLN", 'Q'},
	GlutamicAcid:   {"GLU", 'E'},
	Glycine:        {"GLY", 'G'},
	Histidine:      {"HIS", 'H'},
	Isoleucine:     {"ILE", 'I'},
	Leucine:        {"LEU", 'L'},
	Lysine:         {"LYS", 'K'},
	Methionine:     {"MET", 'M'},
	Phenylalanine:  {"PHE", 'F'},
	Proline:        {"PRO", 'P'},
	Serine:         {"SER", 'S'},
	Threonine:      {"THR", 'T'},
	Tryptophan:     {"TRP", 'W'},
	Tyrosine:       {"TYR", 'Y'},
	Valine:         {"VAL", 'V'},
	Adenosine:      {"A", 'A'},
	Cytidine:       {"C", 'C'},
	Guanosine:      {"G", 'G'},
	Uridine:        {"U", 'U'},
	Deoxyadenosine: {"DA", 'A'},
	Deoxycytidine:  {"DC", 'C'},
	Deoxyguanosine: {"DG", 'G'},
	Deoxythymidine: {"DT", 'T'},
}

var byComponent = func() map[string]ResidueType {
	m := make(map[string]ResidueType, numResidueTypes)
	for t := Unknown; t < numResidueTypes; t++ {
		m[residueTable[t].component] = t
	}
	return m
}()

// ParseResidueType resolves a chemical component id such as "HIS" or "DA".
func ParseResidueType(component string) (ResidueType, error) {
	t, ok := byComponent[strings.ToUpper(strings.TrimSpace(component))]
	if !ok {
		return Unknown, fmt.Errorf("unknown residue component %q", component)
	}
	return t, nil
}

// ResidueTypes lists every known type in ordinal order.
func ResidueTypes() []ResidueType {
	types := make([]ResidueType, 0, numResidueTypes)
	for t := Unknown; t < numResidueTypes; t++ {
		types = append(types, t)
	}
	return types
}

func (t ResidueType) Valid() bool {
	return t < numResidueTypes
}

func (t ResidueType) Component() string {
	if !t.Valid() {
		return residueTable[Unknown].component
	}
	return residueTable[t].component
}

func (t ResidueType) OneLetterCode() byte {
	if !t.Valid() {
		return residueTable[Unknown].oneLetter
	}
	return residueTable[t].oneLetter
}

func (t ResidueType) String() string {
	return t.Component()
}

// IsNucleotide reports whether t is a ribo- or deoxyribonucleotide.
func (t ResidueType) IsNucleotide() bool {
	return t >= Adenosine && t <= Deoxythymidine
}

// sortKey orders by one-letter code first; the ordinal breaks ties between
// types sharing a code (ALA, A and DA all print as 'A').
func (t ResidueType) sortKey() uint16 {
	return uint16(t.OneLetterCode())<<8 | uint16(t)
}

// Less reports whether t sorts strictly before o in canonical pair order.
func (t ResidueType) Less(o ResidueType) bool {
	return t.sortKey() < o.sortKey()
}
