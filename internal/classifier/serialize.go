package classifier

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strconv"

	"github.com/hanpama/chaingraph/internal/codec"
)

// Object is a JSON object that keeps insertion order. TypeName is the schema
// type the object was serialized as.
type Object struct {
	TypeName string
	keys     []string
	values   map[string]any
}

// NewObject returns an empty object for the named schema type.
func NewObject(typeName string) *Object {
	return &Object{TypeName: typeName, values: make(map[string]any)}
}

// Set stores v under k. An existing key keeps its position.
func (o *Object) Set(k string, v any) *Object {
	if _, ok := o.values[k]; !ok {
		o.keys = append(o.keys, k)
	}
	o.values[k] = v
	return o
}

// Get returns the value stored under k.
func (o *Object) Get(k string) (any, bool) {
	v, ok := o.values[k]
	return v, ok
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string { return append([]string(nil), o.keys...) }

// Len returns the number of keys.
func (o *Object) Len() int { return len(o.keys) }

// MarshalJSON writes the keys in insertion order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Serialize converts a wire value into a generic JSON value: nil, bool, int64,
// json.Number for integers wider than 32 bits and moments, string, []any or
// *Object.
func (r *Registry) Serialize(v codec.Value) any {
	switch v := v.(type) {
	case nil:
		return nil
	case codec.Bool:
		return v.V
	case codec.Uint:
		return integer(v.V, v.Bits)
	case codec.Int:
		return integer(v.V, v.Bits)
	case codec.Moment:
		return json.Number(strconv.FormatUint(v.V, 10))
	case codec.Text:
		return v.V
	case codec.Bytes:
		out := make([]any, len(v.V))
		for i, b := range v.V {
			out[i] = int64(b)
		}
		return out
	case codec.AccountID:
		return codec.SS58Encode(v.V, r.ss58Prefix)
	case codec.Hash:
		return "0x" + hex.EncodeToString(v.V)
	case codec.Null:
		return nil
	case codec.Struct:
		o := NewObject(TypeName(v.Type))
		if def, err := r.types.Resolve(v.Type); err == nil {
			o.TypeName = TypeName(def.Name)
		}
		for _, f := range v.Fields {
			o.Set(FieldName(f.Name), r.Serialize(f.Value))
		}
		return o
	case codec.Tuple:
		o := NewObject(TupleName(v.Members))
		for i, m := range v.Members {
			o.Set(TupleField(m), r.Serialize(v.Values[i]))
		}
		return o
	case codec.Enum:
		o := NewObject(TypeName(v.Type))
		if def, err := r.types.Resolve(v.Type); err == nil {
			o.TypeName = TypeName(def.Name)
		}
		o.Set(v.Variant, r.Serialize(v.Payload))
		o.Set(EnumTypeField, v.Variant)
		return o
	case codec.Vec:
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			out[i] = r.Serialize(item)
		}
		return out
	case codec.Option:
		if v.Some == nil {
			return nil
		}
		return r.Serialize(v.Some)
	case codec.Fixed:
		if v.Items == nil {
			return "0x" + hex.EncodeToString(v.Raw)
		}
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			out[i] = r.Serialize(item)
		}
		return out
	}
	return nil
}

func integer(v *big.Int, bits int) any {
	if bits <= 32 && v.IsInt64() {
		return v.Int64()
	}
	return json.Number(v.String())
}
