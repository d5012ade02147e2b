package codec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Encode returns the SCALE encoding of v.
func Encode(v Value) ([]byte, error) {
	var out []byte
	if err := appendValue(&out, v); err != nil {
		return nil, err
	}
	return out, nil
}

func appendValue(out *[]byte, v Value) error {
	switch v := v.(type) {
	case Bool:
		if v.V {
			*out = append(*out, 1)
		} else {
			*out = append(*out, 0)
		}
	case Uint:
		if v.Compact {
			b, err := EncodeCompact(v.V)
			if err != nil {
				return err
			}
			*out = append(*out, b...)
			return nil
		}
		b, err := bigToLE(v.V, v.Bits/8)
		if err != nil {
			return err
		}
		*out = append(*out, b...)
	case Int:
		b, err := bigToLE(v.V, v.Bits/8)
		if err != nil {
			return err
		}
		*out = append(*out, b...)
	case Moment:
		*out = binary.LittleEndian.AppendUint64(*out, v.V)
	case Text:
		appendLength(out, len(v.V))
		*out = append(*out, v.V...)
	case Bytes:
		appendLength(out, len(v.V))
		*out = append(*out, v.V...)
	case AccountID:
		*out = append(*out, v.V...)
	case Hash:
		*out = append(*out, v.V...)
	case Null:
	case Struct:
		for _, f := range v.Fields {
			if err := appendValue(out, f.Value); err != nil {
				return err
			}
		}
	case Tuple:
		for _, m := range v.Values {
			if err := appendValue(out, m); err != nil {
				return err
			}
		}
	case Enum:
		*out = append(*out, byte(v.Index))
		if v.Payload != nil {
			return appendValue(out, v.Payload)
		}
	case Vec:
		appendLength(out, len(v.Items))
		for _, item := range v.Items {
			if err := appendValue(out, item); err != nil {
				return err
			}
		}
	case Option:
		if v.Some == nil {
			*out = append(*out, 0)
			return nil
		}
		if b, ok := v.Some.(Bool); ok {
			if b.V {
				*out = append(*out, 1)
			} else {
				*out = append(*out, 2)
			}
			return nil
		}
		*out = append(*out, 1)
		return appendValue(out, v.Some)
	case Fixed:
		if v.Items == nil {
			*out = append(*out, v.Raw...)
			return nil
		}
		for _, item := range v.Items {
			if err := appendValue(out, item); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("cannot encode %T", v)
	}
	return nil
}

func appendLength(out *[]byte, n int) {
	b, _ := EncodeCompact(big.NewInt(int64(n)))
	*out = append(*out, b...)
}

// EncodeKey encodes a storage map key given as text. Account ids accept SS58
// or 0x hex, integers accept decimal, byte-like types accept 0x hex, text is
// taken verbatim and enums without payload accept the variant name.
func (r *Registry) EncodeKey(typeName, key string) ([]byte, error) {
	def, err := r.Resolve(typeName)
	if err != nil {
		return nil, err
	}
	switch def.Kind {
	case KindAccountID:
		if strings.HasPrefix(key, "0x") {
			return decodeHexSized(key, def.Size)
		}
		pub, _, err := SS58Decode(key)
		if err != nil {
			return nil, err
		}
		return pub, nil
	case KindUint, KindInt, KindMoment:
		n, ok := new(big.Int).SetString(key, 10)
		if !ok {
			return nil, fmt.Errorf("key %q is not a decimal integer", key)
		}
		return bigToLE(n, def.Bits/8)
	case KindCompact:
		n, ok := new(big.Int).SetString(key, 10)
		if !ok {
			return nil, fmt.Errorf("key %q is not a decimal integer", key)
		}
		return EncodeCompact(n)
	case KindBool:
		b, err := strconv.ParseBool(key)
		if err != nil {
			return nil, err
		}
		return Encode(Bool{V: b})
	case KindHash:
		return decodeHexSized(key, def.Size)
	case KindFixed:
		if inner, err := r.Resolve(def.Elem); err == nil && inner.Kind == KindUint && inner.Bits == 8 {
			return decodeHexSized(key, def.Size)
		}
	case KindBytes:
		var raw []byte
		if strings.HasPrefix(key, "0x") {
			raw, err = hex.DecodeString(key[2:])
			if err != nil {
				return nil, err
			}
		} else {
			raw = []byte(key)
		}
		return Encode(Bytes{V: raw})
	case KindText:
		return Encode(Text{V: key})
	case KindEnum:
		idx, ok := def.Variant(key)
		if !ok {
			return nil, fmt.Errorf("%s has no variant %q", typeName, key)
		}
		if def.Members[idx].Type != "Null" {
			return nil, fmt.Errorf("variant %s.%s carries a payload", typeName, key)
		}
		return []byte{byte(idx)}, nil
	}
	return nil, fmt.Errorf("keys of type %s (%s) cannot be given as text", typeName, def.Kind)
}

func decodeHexSized(s string, size int) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	if len(raw) != size {
		return nil, fmt.Errorf("expected %d bytes, got %d", size, len(raw))
	}
	return raw, nil
}
