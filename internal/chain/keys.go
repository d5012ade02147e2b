package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/hanpama/chaingraph/internal/metadata"
)

// twox concatenates n little endian xxhash64 digests seeded 0..n-1.
func twox(data []byte, n int) []byte {
	out := make([]byte, 0, 8*n)
	for seed := 0; seed < n; seed++ {
		d := xxhash.NewWithSeed(uint64(seed))
		d.Write(data)
		out = binary.LittleEndian.AppendUint64(out, d.Sum64())
	}
	return out
}

func blake2(data []byte, size int) []byte {
	h, err := blake2b.New(size, nil)
	if err != nil {
		panic(err)
	}
	h.Write(data)
	return h.Sum(nil)
}

// Hash applies a storage hasher to an encoded key.
func Hash(h metadata.Hasher, data []byte) ([]byte, error) {
	switch h {
	case metadata.Blake2_128:
		return blake2(data, 16), nil
	case metadata.Blake2_256:
		return blake2(data, 32), nil
	case metadata.Blake2_128Concat:
		return append(blake2(data, 16), data...), nil
	case metadata.Twox128:
		return twox(data, 2), nil
	case metadata.Twox256:
		return twox(data, 4), nil
	case metadata.Twox64Concat:
		return append(twox(data, 1), data...), nil
	case metadata.Identity:
		return append([]byte(nil), data...), nil
	}
	return nil, fmt.Errorf("unknown hasher %q", h)
}

// StorageKey builds the raw key of an item: twox128(prefix) ++ twox128(name)
// followed by the hashed map keys, if any.
func StorageKey(prefix string, item *metadata.StorageDescriptor, keys ...[]byte) ([]byte, error) {
	out := append(twox([]byte(prefix), 2), twox([]byte(item.Name), 2)...)
	hashers := []metadata.Hasher{item.Hasher, item.Key2Hasher}
	want := map[metadata.Structure]int{metadata.Plain: 0, metadata.Map: 1, metadata.DoubleMap: 2}[item.Structure]
	if len(keys) != want {
		return nil, fmt.Errorf("%w: %s.%s takes %d keys, got %d", ErrKeyCount, prefix, item.Name, want, len(keys))
	}
	for i, k := range keys {
		hashed, err := Hash(hashers[i], k)
		if err != nil {
			return nil, err
		}
		out = append(out, hashed...)
	}
	return out, nil
}
