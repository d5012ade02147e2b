package bridge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ExportKind is the external kind of a module export.
type ExportKind byte

const (
	ExportFunction ExportKind = 0
	ExportTable    ExportKind = 1
	ExportMemory   ExportKind = 2
	ExportGlobal   ExportKind = 3
)

// Export is one entry of a module's export section.
type Export struct {
	Name  string
	Kind  ExportKind
	Index uint32
}

const sectionExport = 7

var errMalformed = errors.New("malformed wasm binary")

// ScanExports returns the export section entries of a binary module in
// declaration order. Other sections are skipped without validation.
func ScanExports(wasm []byte) ([]Export, error) {
	if len(wasm) < 8 || !bytes.Equal(wasm[:4], []byte("\x00asm")) {
		return nil, fmt.Errorf("%w: missing magic", errMalformed)
	}
	if v := binary.LittleEndian.Uint32(wasm[4:8]); v != 1 {
		return nil, fmt.Errorf("%w: version %d", errMalformed, v)
	}
	r := wasmReader{buf: wasm, pos: 8}
	for r.pos < len(r.buf) {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		end := r.pos + int(size)
		if end > len(r.buf) {
			return nil, fmt.Errorf("%w: section %d overruns binary", errMalformed, id)
		}
		if id != sectionExport {
			r.pos = end
			continue
		}
		return r.exports(end)
	}
	return nil, nil
}

type wasmReader struct {
	buf []byte
	pos int
}

func (r *wasmReader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("%w: unexpected end", errMalformed)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// u32 reads an unsigned LEB128 value.
func (r *wasmReader) u32() (uint32, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 || v > 1<<32-1 {
		return 0, fmt.Errorf("%w: bad varint at %d", errMalformed, r.pos)
	}
	r.pos += n
	return uint32(v), nil
}

func (r *wasmReader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.buf) {
		return "", fmt.Errorf("%w: name overruns binary", errMalformed)
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *wasmReader) exports(end int) ([]Export, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		var e Export
		if e.Name, err = r.name(); err != nil {
			return nil, err
		}
		kind, err := r.byte()
		if err != nil {
			return nil, err
		}
		e.Kind = ExportKind(kind)
		if e.Index, err = r.u32(); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if r.pos != end {
		return nil, fmt.Errorf("%w: export section size mismatch", errMalformed)
	}
	return out, nil
}
