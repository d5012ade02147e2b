package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"unicode/utf8"
)

// ErrShortInput is returned when the encoded data ends before the value does.
var ErrShortInput = errors.New("unexpected end of input")

// Decode decodes a SCALE encoded value of the named type. Trailing bytes are
// an error.
func (r *Registry) Decode(typeName string, data []byte) (Value, error) {
	d := &decoder{reg: r, buf: data}
	v, err := d.value(typeName)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", typeName, err)
	}
	if d.pos != len(d.buf) {
		return nil, fmt.Errorf("decode %s: %d trailing bytes", typeName, len(d.buf)-d.pos)
	}
	return v, nil
}

type decoder struct {
	reg *Registry
	buf []byte
	pos int
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, ErrShortInput
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) byte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) compact() (*big.Int, error) {
	b0, err := d.byte()
	if err != nil {
		return nil, err
	}
	switch b0 & 3 {
	case 0:
		return big.NewInt(int64(b0 >> 2)), nil
	case 1:
		b1, err := d.byte()
		if err != nil {
			return nil, err
		}
		return big.NewInt(int64(binary.LittleEndian.Uint16([]byte{b0, b1}) >> 2)), nil
	case 2:
		rest, err := d.take(3)
		if err != nil {
			return nil, err
		}
		return big.NewInt(int64(binary.LittleEndian.Uint32([]byte{b0, rest[0], rest[1], rest[2]}) >> 2)), nil
	}
	raw, err := d.take(int(b0>>2) + 4)
	if err != nil {
		return nil, err
	}
	return leToBig(raw), nil
}

func (d *decoder) length() (int, error) {
	n, err := d.compact()
	if err != nil {
		return 0, err
	}
	if !n.IsInt64() || n.Int64() > int64(len(d.buf)-d.pos) {
		return 0, fmt.Errorf("length %s exceeds input", n)
	}
	return int(n.Int64()), nil
}

func (d *decoder) value(typeName string) (Value, error) {
	def, err := d.reg.Resolve(typeName)
	if err != nil {
		return nil, err
	}
	switch def.Kind {
	case KindBool:
		b, err := d.byte()
		if err != nil {
			return nil, err
		}
		return Bool{Type: typeName, V: b == 1}, nil
	case KindUint:
		raw, err := d.take(def.Bits / 8)
		if err != nil {
			return nil, err
		}
		return Uint{Type: typeName, Bits: def.Bits, V: leToBig(raw)}, nil
	case KindInt:
		raw, err := d.take(def.Bits / 8)
		if err != nil {
			return nil, err
		}
		v := leToBig(raw)
		if raw[len(raw)-1]&0x80 != 0 {
			v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(def.Bits)))
		}
		return Int{Type: typeName, Bits: def.Bits, V: v}, nil
	case KindMoment:
		raw, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return Moment{Type: typeName, V: binary.LittleEndian.Uint64(raw)}, nil
	case KindCompact:
		v, err := d.compact()
		if err != nil {
			return nil, err
		}
		bits := 128
		if inner, err := d.reg.Resolve(def.Elem); err == nil && inner.Bits > 0 {
			bits = inner.Bits
		}
		return Uint{Type: typeName, Bits: bits, Compact: true, V: v}, nil
	case KindText:
		n, err := d.length()
		if err != nil {
			return nil, err
		}
		raw, err := d.take(n)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("invalid utf-8 text")
		}
		return Text{Type: typeName, V: string(raw)}, nil
	case KindBytes:
		n, err := d.length()
		if err != nil {
			return nil, err
		}
		raw, err := d.take(n)
		if err != nil {
			return nil, err
		}
		return Bytes{Type: typeName, V: append([]byte(nil), raw...)}, nil
	case KindAccountID:
		raw, err := d.take(def.Size)
		if err != nil {
			return nil, err
		}
		return AccountID{Type: typeName, V: append([]byte(nil), raw...)}, nil
	case KindHash:
		raw, err := d.take(def.Size)
		if err != nil {
			return nil, err
		}
		return Hash{Type: typeName, V: append([]byte(nil), raw...)}, nil
	case KindNull:
		return Null{Type: typeName}, nil
	case KindStruct:
		s := Struct{Type: typeName, Fields: make([]Field, len(def.Members))}
		for i, m := range def.Members {
			v, err := d.value(m.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", typeName, m.Name, err)
			}
			s.Fields[i] = Field{Name: m.Name, Value: v}
		}
		return s, nil
	case KindTuple:
		t := Tuple{Type: typeName, Members: def.MemberTypes(), Values: make([]Value, len(def.Members))}
		for i, m := range def.Members {
			v, err := d.value(m.Type)
			if err != nil {
				return nil, err
			}
			t.Values[i] = v
		}
		return t, nil
	case KindEnum:
		idx, err := d.byte()
		if err != nil {
			return nil, err
		}
		if int(idx) >= len(def.Members) {
			return nil, fmt.Errorf("%s: variant index %d out of range", typeName, idx)
		}
		m := def.Members[idx]
		payload, err := d.value(m.Type)
		if err != nil {
			return nil, fmt.Errorf("%s::%s: %w", typeName, m.Name, err)
		}
		return Enum{Type: typeName, Index: int(idx), Variant: m.Name, Payload: payload}, nil
	case KindVec:
		n, err := d.compact()
		if err != nil {
			return nil, err
		}
		if !n.IsInt64() || n.Int64() > int64(len(d.buf)-d.pos) {
			return nil, fmt.Errorf("vector length %s exceeds input", n)
		}
		vec := Vec{Type: typeName, Elem: def.Elem, Items: make([]Value, 0, n.Int64())}
		for i := int64(0); i < n.Int64(); i++ {
			v, err := d.value(def.Elem)
			if err != nil {
				return nil, err
			}
			vec.Items = append(vec.Items, v)
		}
		return vec, nil
	case KindOption:
		flag, err := d.byte()
		if err != nil {
			return nil, err
		}
		inner, err := d.reg.Resolve(def.Elem)
		if err != nil {
			return nil, err
		}
		if inner.Kind == KindBool {
			switch flag {
			case 0:
				return Option{Type: typeName}, nil
			case 1:
				return Option{Type: typeName, Some: Bool{Type: def.Elem, V: true}}, nil
			case 2:
				return Option{Type: typeName, Some: Bool{Type: def.Elem, V: false}}, nil
			}
			return nil, fmt.Errorf("invalid Option<bool> byte %d", flag)
		}
		switch flag {
		case 0:
			return Option{Type: typeName}, nil
		case 1:
			v, err := d.value(def.Elem)
			if err != nil {
				return nil, err
			}
			return Option{Type: typeName, Some: v}, nil
		}
		return nil, fmt.Errorf("invalid option byte %d", flag)
	case KindFixed:
		inner, err := d.reg.Resolve(def.Elem)
		if err != nil {
			return nil, err
		}
		if inner.Kind == KindUint && inner.Bits == 8 {
			raw, err := d.take(def.Size)
			if err != nil {
				return nil, err
			}
			return Fixed{Type: typeName, Elem: def.Elem, Raw: append([]byte(nil), raw...)}, nil
		}
		f := Fixed{Type: typeName, Elem: def.Elem, Items: make([]Value, def.Size)}
		for i := range f.Items {
			v, err := d.value(def.Elem)
			if err != nil {
				return nil, err
			}
			f.Items[i] = v
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s has no decoder", ErrUnknownType, typeName)
}

func leToBig(raw []byte) *big.Int {
	be := make([]byte, len(raw))
	for i, b := range raw {
		be[len(raw)-1-i] = b
	}
	return new(big.Int).SetBytes(be)
}

// bigToLE writes v as an n byte little endian two's complement integer.
func bigToLE(v *big.Int, n int) ([]byte, error) {
	x := new(big.Int).Set(v)
	if x.Sign() < 0 {
		x.Add(x, new(big.Int).Lsh(big.NewInt(1), uint(n*8)))
	}
	be := x.Bytes()
	if len(be) > n || x.Sign() < 0 {
		return nil, fmt.Errorf("integer %s does not fit in %d bytes", v, n)
	}
	out := make([]byte, n)
	for i, b := range be {
		out[len(be)-1-i] = b
	}
	return out, nil
}

// EncodeCompact returns the SCALE compact encoding of a non-negative integer.
func EncodeCompact(v *big.Int) ([]byte, error) {
	if v.Sign() < 0 {
		return nil, fmt.Errorf("compact integer %s is negative", v)
	}
	switch {
	case v.Cmp(big.NewInt(1<<6)) < 0:
		return []byte{byte(v.Uint64() << 2)}, nil
	case v.Cmp(big.NewInt(1<<14)) < 0:
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(v.Uint64()<<2|1))
		return out, nil
	case v.Cmp(big.NewInt(1<<30)) < 0:
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(v.Uint64()<<2|2))
		return out, nil
	}
	n := (v.BitLen() + 7) / 8
	if n > 67 {
		return nil, fmt.Errorf("compact integer %s too large", v)
	}
	raw, err := bigToLE(v, n)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte((n-4)<<2 | 3)}, raw...), nil
}
