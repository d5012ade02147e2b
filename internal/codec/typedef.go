// Package codec describes chain wire types and decodes SCALE encoded storage
// values into a closed set of Value shapes.
package codec

import "strings"

// Kind is the structural shape of a wire type.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindUint
	KindInt
	KindMoment
	KindText
	KindBytes
	KindAccountID
	KindHash
	KindNull
	KindStruct
	KindTuple
	KindEnum
	KindVec
	KindOption
	KindCompact
	KindFixed
)

var kindNames = map[Kind]string{
	KindBool:      "bool",
	KindUint:      "uint",
	KindInt:       "int",
	KindMoment:    "moment",
	KindText:      "text",
	KindBytes:     "bytes",
	KindAccountID: "accountId",
	KindHash:      "hash",
	KindNull:      "null",
	KindStruct:    "struct",
	KindTuple:     "tuple",
	KindEnum:      "enum",
	KindVec:       "vec",
	KindOption:    "option",
	KindCompact:   "compact",
	KindFixed:     "fixed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Member is a struct field, a tuple member (empty Name) or an enum variant
// (Type is the payload type, "Null" when the variant carries nothing).
type Member struct {
	Name string `yaml:"name,omitempty"`
	Type string `yaml:"type"`
}

// TypeDef is the resolved description of one wire type.
type TypeDef struct {
	Name string
	Kind Kind
	// Bits is the integer width for KindUint, KindInt and KindMoment.
	Bits int
	// Size is the byte length for KindHash and KindAccountID and the element
	// count for KindFixed.
	Size int
	// Elem names the element type of KindVec, KindOption, KindCompact and KindFixed.
	Elem    string
	Members []Member
}

// MemberTypes returns the member type names in declared order.
func (d *TypeDef) MemberTypes() []string {
	out := make([]string, len(d.Members))
	for i, m := range d.Members {
		out[i] = m.Type
	}
	return out
}

// Variant returns the index of the enum variant called name.
func (d *TypeDef) Variant(name string) (int, bool) {
	for i, m := range d.Members {
		if strings.EqualFold(m.Name, name) {
			return i, true
		}
	}
	return 0, false
}
