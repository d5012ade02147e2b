package bridge

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// Memory is the part of a guest linear memory the bridge reads and writes.
// wazero's api.Memory satisfies it.
type Memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	ReadUint32Le(offset uint32) (uint32, bool)
}

// stringClassID is the runtime class id of strings in the guest runtime.
const stringClassID = 1

// readString reads a guest string: UTF-16LE code units whose byte length is
// stored in the object header four bytes before ptr.
func readString(mem Memory, ptr uint32) (string, error) {
	if ptr < 4 {
		return "", fmt.Errorf("string pointer %d out of range", ptr)
	}
	size, ok := mem.ReadUint32Le(ptr - 4)
	if !ok {
		return "", fmt.Errorf("string header at %d out of range", ptr-4)
	}
	raw, ok := mem.Read(ptr, size)
	if !ok {
		return "", fmt.Errorf("string body at %d+%d out of range", ptr, size)
	}
	units := make([]uint16, size/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return string(utf16.Decode(units)), nil
}

func encodeString(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[2*i:], u)
	}
	return out
}

// readArray reads the u32 elements of a guest Array. The array object holds
// the data start at +4 and the length at +12.
func readArray(mem Memory, ptr uint32) ([]uint32, error) {
	start, ok1 := mem.ReadUint32Le(ptr + 4)
	length, ok2 := mem.ReadUint32Le(ptr + 12)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("array header at %d out of range", ptr)
	}
	out := make([]uint32, length)
	for i := range out {
		v, ok := mem.ReadUint32Le(start + 4*uint32(i))
		if !ok {
			return nil, fmt.Errorf("array element %d at %d out of range", i, ptr)
		}
		out[i] = v
	}
	return out, nil
}

func readStrings(mem Memory, ptr uint32) ([]string, error) {
	ptrs, err := readArray(mem, ptr)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ptrs))
	for i, p := range ptrs {
		if out[i], err = readString(mem, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}
