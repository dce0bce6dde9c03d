package structure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/spatial/r3"
)

// Source loads structures by identifier.
type Source interface {
	Load(ctx context.Context, id string) (*Structure, error)
}

// Document is the JSON form of a structure.
type Document struct {
	ID        string            `json:"id"`
	Operators []string          `json:"operators,omitempty"`
	Residues  []ResidueDocument `json:"residues"`
}

type ResidueDocument struct {
	Chain     string     `json:"chain"`
	Seq       int        `json:"seq"`
	Operator  string     `json:"operator,omitempty"`
	Type      string     `json:"type"`
	Backbone  [3]float64 `json:"backbone"`
	SideChain [3]float64 `json:"sideChain"`
}

// Decode reads one JSON document. Residue components that are not part of
// the classification become Unknown rather than failing the structure.
func Decode(r io.Reader) (*Structure, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "decoding structure document: %v", err)
	}
	return doc.Structure()
}

func (d Document) Structure() (*Structure, error) {
	residues := make([]Residue, len(d.Residues))
	for i, rd := range d.Residues {
		t, err := descriptor.ParseResidueType(rd.Type)
		if err != nil {
			t = descriptor.Unknown
		}
		residues[i] = Residue{
			Label:     ResidueLabel{Chain: rd.Chain, Seq: rd.Seq, Operator: rd.Operator},
			Type:      t,
			Backbone:  r3.Vec{X: rd.Backbone[0], Y: rd.Backbone[1], Z: rd.Backbone[2]},
			SideChain: r3.Vec{X: rd.SideChain[0], Y: rd.SideChain[1], Z: rd.SideChain[2]},
		}
	}
	return New(d.ID, d.Operators, residues)
}

// NewDocument is the inverse of Document.Structure.
func NewDocument(s *Structure) Document {
	doc := Document{ID: s.ID, Residues: make([]ResidueDocument, len(s.Residues))}
	if len(s.Operators) > 1 {
		doc.Operators = append([]string(nil), s.Operators...)
	}
	for i, r := range s.Residues {
		doc.Residues[i] = ResidueDocument{
			Chain:     r.Label.Chain,
			Seq:       r.Label.Seq,
			Operator:  r.Label.Operator,
			Type:      r.Type.Component(),
			Backbone:  [3]float64{r.Backbone.X, r.Backbone.Y, r.Backbone.Z},
			SideChain: [3]float64{r.SideChain.X, r.SideChain.Y, r.SideChain.Z},
		}
	}
	return doc
}

// DirSource reads <id>.json or zstd-compressed <id>.json.zst files from a
// directory. Identifiers are matched case-insensitively.
type DirSource struct {
	Dir string
}

func (d DirSource) Load(ctx context.Context, id string) (*Structure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "bad structure identifier %q", id)
	}
	for _, name := range []string{id, strings.ToLower(id), strings.ToUpper(id)} {
		s, err := d.loadFile(filepath.Join(d.Dir, name+".json.zst"), true)
		if err == nil || !errors.Is(err, os.ErrNotExist) {
			return s, err
		}
		s, err = d.loadFile(filepath.Join(d.Dir, name+".json"), false)
		if err == nil || !errors.Is(err, os.ErrNotExist) {
			return s, err
		}
	}
	return nil, apperrors.Newf(apperrors.ErrUnknownStructure, "%s not found in %s", id, d.Dir)
}

func (d DirSource) loadFile(path string, compressed bool) (*Structure, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if compressed {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader for %s: %w", path, err)
		}
		defer dec.Close()
		r = dec
	}
	s, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// Save writes s as <id>.json, or <id>.json.zst when compress is set.
func (d DirSource) Save(s *Structure, compress bool) error {
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return fmt.Errorf("creating structure directory: %w", err)
	}
	name := s.ID + ".json"
	if compress {
		name += ".zst"
	}
	f, err := os.Create(filepath.Join(d.Dir, name))
	if err != nil {
		return fmt.Errorf("creating structure file: %w", err)
	}
	defer f.Close()
	var w io.Writer = f
	var enc *zstd.Encoder
	if compress {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			return fmt.Errorf("creating zstd writer: %w", err)
		}
		w = enc
	}
	if err := json.NewEncoder(w).Encode(NewDocument(s)); err != nil {
		return fmt.Errorf("encoding structure %s: %w", s.ID, err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("flushing zstd stream: %w", err)
		}
	}
	return f.Close()
}

// MemorySource serves structures held in memory.
type MemorySource map[string]*Structure

func (m MemorySource) Load(ctx context.Context, id string) (*Structure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := m[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrUnknownStructure, "%s not in memory source", id)
	}
	return s, nil
}
