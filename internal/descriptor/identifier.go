package descriptor

import (
	"fmt"
)

const (
	indexBits    = 20
	operatorBits = 12

	// MaxResidueIndex is the largest residue index an Identifier can hold.
	MaxResidueIndex = 1<<indexBits - 1
	// MaxOperator is the largest operator index an Identifier can hold.
	MaxOperator = 1<<operatorBits - 1

	// IdentityOperator is the operator index of the untransformed asymmetric unit.
	IdentityOperator = 0

	index1Shift    = 0
	index2Shift    = index1Shift + indexBits
	operator1Shift = index2Shift + indexBits
	operator2Shift = operator1Shift + operatorBits

	indexMask    = 1<<indexBits - 1
	operatorMask = 1<<operatorBits - 1
)

// ResidueRef locates one residue inside a structure: its index in the
// structure's residue list and the symmetry operator applied to it.
type ResidueRef struct {
	Index    uint32
	Operator uint16
}

func (r ResidueRef) String() string {
	if r.Operator == IdentityOperator {
		return fmt.Sprintf("%d", r.Index)
	}
	return fmt.Sprintf("%d@%d", r.Index, r.Operator)
}

func (r ResidueRef) valid() bool {
	return r.Index <= MaxResidueIndex && r.Operator <= MaxOperator
}

// Identifier is a concrete residue pair: the occurrence of a descriptor.
//
// Bit layout, least significant first:
//
//	[0,20)  residue index 1
//	[20,40) residue index 2
//	[40,52) operator 1
//	[52,64) operator 2
type Identifier uint64

// NewIdentifier packs two residue references, rejecting out-of-range fields.
func NewIdentifier(first, second ResidueRef) (Identifier, error) {
	if !first.valid() || !second.valid() {
		return 0, fmt.Errorf("residue reference out of range: %v, %v", first, second)
	}
	return Identifier(uint64(first.Index)<<index1Shift |
		uint64(second.Index)<<index2Shift |
		uint64(first.Operator)<<operator1Shift |
		uint64(second.Operator)<<operator2Shift), nil
}

// MustIdentifier is NewIdentifier for inputs known to be valid.
func MustIdentifier(first, second ResidueRef) Identifier {
	id, err := NewIdentifier(first, second)
	if err != nil {
		panic(err)
	}
	return id
}

func (id Identifier) First() ResidueRef {
	return ResidueRef{
		Index:    uint32(uint64(id) >> index1Shift & indexMask),
		Operator: uint16(uint64(id) >> operator1Shift & operatorMask),
	}
}

func (id Identifier) Second() ResidueRef {
	return ResidueRef{
		Index:    uint32(uint64(id) >> index2Shift & indexMask),
		Operator: uint16(uint64(id) >> operator2Shift & operatorMask),
	}
}

// Swap returns the identifier with its two residues exchanged.
func (id Identifier) Swap() Identifier {
	return MustIdentifier(id.Second(), id.First())
}

// Shares reports whether the two identifiers have at least one residue in
// common. This is the only notion of overlap the search relies on.
func (id Identifier) Shares(other Identifier) bool {
	a, b := id.First(), id.Second()
	c, d := other.First(), other.Second()
	return a == c || a == d || b == c || b == d
}

// HasOperators reports whether either residue carries a non-identity operator.
func (id Identifier) HasOperators() bool {
	return id.First().Operator != IdentityOperator || id.Second().Operator != IdentityOperator
}

func (id Identifier) String() string {
	return fmt.Sprintf("(%v,%v)", id.First(), id.Second())
}

// Encoding names a storage layout for identifiers inside a bucket. The tag is
// written into every bucket header; readers never infer it from array sizes.
type Encoding uint8

const (
	// EncodingIndexPair stores index1, index2. Both operators are identity.
	EncodingIndexPair Encoding = 1
	// EncodingSharedOperator stores index1, index2, operator. Both residues
	// carry the same operator.
	EncodingSharedOperator Encoding = 2
	// EncodingOperatorPair stores index1, index2, operator1, operator2.
	EncodingOperatorPair Encoding = 3
)

// Fields returns the number of int32 values one identifier occupies.
func (e Encoding) Fields() int {
	switch e {
	case EncodingIndexPair:
		return 2
	case EncodingSharedOperator:
		return 3
	case EncodingOperatorPair:
		return 4
	default:
		return 0
	}
}

func (e Encoding) Valid() bool { return e.Fields() > 0 }

func (e Encoding) String() string {
	switch e {
	case EncodingIndexPair:
		return "index-pair"
	case EncodingSharedOperator:
		return "shared-operator"
	case EncodingOperatorPair:
		return "operator-pair"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// EncodingFor picks the most compact encoding able to represent every
// identifier in ids.
func EncodingFor(ids []Identifier) Encoding {
	enc := EncodingIndexPair
	for _, id := range ids {
		op1, op2 := id.First().Operator, id.Second().Operator
		switch {
		case op1 != op2:
			return EncodingOperatorPair
		case op1 != IdentityOperator:
			enc = EncodingSharedOperator
		}
	}
	return enc
}

// AppendFields appends the storage fields of id under enc. It fails when enc
// cannot represent id.
func AppendFields(dst []int32, id Identifier, enc Encoding) ([]int32, error) {
	first, second := id.First(), id.Second()
	switch enc {
	case EncodingIndexPair:
		if id.HasOperators() {
			return dst, fmt.Errorf("identifier %v needs operators, encoding %v has none", id, enc)
		}
		return append(dst, int32(first.Index), int32(second.Index)), nil
	case EncodingSharedOperator:
		if first.Operator != second.Operator {
			return dst, fmt.Errorf("identifier %v has distinct operators, encoding %v shares one", id, enc)
		}
		return append(dst, int32(first.Index), int32(second.Index), int32(first.Operator)), nil
	case EncodingOperatorPair:
		return append(dst, int32(first.Index), int32(second.Index), int32(first.Operator), int32(second.Operator)), nil
	default:
		return dst, fmt.Errorf("unknown identifier encoding %d", enc)
	}
}

// IdentifierFromFields decodes one identifier stored under enc. fields must
// hold exactly enc.Fields() values.
func IdentifierFromFields(fields []int32, enc Encoding) (Identifier, error) {
	if !enc.Valid() {
		return 0, fmt.Errorf("unknown identifier encoding %d", enc)
	}
	if len(fields) != enc.Fields() {
		return 0, fmt.Errorf("encoding %v expects %d fields, got %d", enc, enc.Fields(), len(fields))
	}
	for _, f := range fields {
		if f < 0 {
			return 0, fmt.Errorf("negative identifier field %d", f)
		}
	}
	first := ResidueRef{Index: uint32(fields[0])}
	second := ResidueRef{Index: uint32(fields[1])}
	switch enc {
	case EncodingSharedOperator:
		if fields[2] > MaxOperator {
			return 0, fmt.Errorf("operator %d out of range", fields[2])
		}
		first.Operator = uint16(fields[2])
		second.Operator = uint16(fields[2])
	case EncodingOperatorPair:
		if fields[2] > MaxOperator || fields[3] > MaxOperator {
			return 0, fmt.Errorf("operators %d, %d out of range", fields[2], fields[3])
		}
		first.Operator = uint16(fields[2])
		second.Operator = uint16(fields[3])
	}
	return NewIdentifier(first, second)
}
