package codec

import "math/big"

// Value is one decoded wire value. The set of implementations is closed; use a
// type switch over the concrete types below.
type Value interface {
	// TypeName is the wire type name the value was decoded as.
	TypeName() string
	value()
}

type Bool struct {
	Type string
	V    bool
}

// Uint holds any unsigned integer. Compact marks values using the compact
// encoding on the wire.
type Uint struct {
	Type    string
	Bits    int
	Compact bool
	V       *big.Int
}

type Int struct {
	Type string
	Bits int
	V    *big.Int
}

// Moment is a timestamp in the chain's native unit.
type Moment struct {
	Type string
	V    uint64
}

type Text struct {
	Type string
	V    string
}

type Bytes struct {
	Type string
	V    []byte
}

type AccountID struct {
	Type string
	V    []byte
}

type Hash struct {
	Type string
	V    []byte
}

type Null struct {
	Type string
}

// Field is one named struct member.
type Field struct {
	Name  string
	Value Value
}

type Struct struct {
	Type   string
	Fields []Field
}

// Tuple keeps the member type names alongside the values since they name the
// serialized keys.
type Tuple struct {
	Type    string
	Members []string
	Values  []Value
}

type Enum struct {
	Type    string
	Index   int
	Variant string
	Payload Value
}

type Vec struct {
	Type  string
	Elem  string
	Items []Value
}

// Option has a nil Some when empty.
type Option struct {
	Type string
	Some Value
}

// Fixed is a fixed length array. Raw is set instead of Items when the element
// type is u8.
type Fixed struct {
	Type  string
	Elem  string
	Raw   []byte
	Items []Value
}

func (v Bool) TypeName() string      { return v.Type }
func (v Uint) TypeName() string      { return v.Type }
func (v Int) TypeName() string       { return v.Type }
func (v Moment) TypeName() string    { return v.Type }
func (v Text) TypeName() string      { return v.Type }
func (v Bytes) TypeName() string     { return v.Type }
func (v AccountID) TypeName() string { return v.Type }
func (v Hash) TypeName() string      { return v.Type }
func (v Null) TypeName() string      { return v.Type }
func (v Struct) TypeName() string    { return v.Type }
func (v Tuple) TypeName() string     { return v.Type }
func (v Enum) TypeName() string      { return v.Type }
func (v Vec) TypeName() string       { return v.Type }
func (v Option) TypeName() string    { return v.Type }
func (v Fixed) TypeName() string     { return v.Type }

func (Bool) value()      {}
func (Uint) value()      {}
func (Int) value()       {}
func (Moment) value()    {}
func (Text) value()      {}
func (Bytes) value()     {}
func (AccountID) value() {}
func (Hash) value()      {}
func (Null) value()      {}
func (Struct) value()    {}
func (Tuple) value()     {}
func (Enum) value()      {}
func (Vec) value()       {}
func (Option) value()    {}
func (Fixed) value()     {}

// NewUint is a convenience constructor for small unsigned values.
func NewUint(typeName string, bits int, v uint64) Uint {
	return Uint{Type: typeName, Bits: bits, V: new(big.Int).SetUint64(v)}
}
