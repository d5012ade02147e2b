package codec

import (
	"fmt"
	"unicode/utf8"
)

// Reader reads SCALE primitives from a byte slice. It is used to walk
// structures whose layout is fixed in code, such as runtime metadata.
type Reader struct {
	d decoder
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{d: decoder{buf: data}}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.d.buf) - r.d.pos }

// Offset returns the read position.
func (r *Reader) Offset() int { return r.d.pos }

// Raw returns the next n bytes.
func (r *Reader) Raw(n int) ([]byte, error) { return r.d.take(n) }

// U8 reads one byte.
func (r *Reader) U8() (uint8, error) { return r.d.byte() }

// Bool reads a boolean byte.
func (r *Reader) Bool() (bool, error) {
	b, err := r.d.byte()
	if err != nil {
		return false, err
	}
	if b > 1 {
		return false, fmt.Errorf("invalid bool byte %d at %d", b, r.d.pos-1)
	}
	return b == 1, nil
}

// Length reads a compact length prefix.
func (r *Reader) Length() (int, error) { return r.d.length() }

// Bytes reads a length prefixed byte string.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.d.length()
	if err != nil {
		return nil, err
	}
	b, err := r.d.take(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Text reads a length prefixed UTF-8 string.
func (r *Reader) Text() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("invalid utf-8 text at %d", r.d.pos)
	}
	return string(b), nil
}

// Texts reads a vector of strings.
func (r *Reader) Texts() ([]string, error) {
	n, err := r.d.length()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := r.Text()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Option reads an option flag and reports whether a value follows.
func (r *Reader) Option() (bool, error) {
	b, err := r.d.byte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("invalid option byte %d at %d", b, r.d.pos-1)
}
