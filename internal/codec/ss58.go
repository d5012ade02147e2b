package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// DefaultSS58Prefix is the generic substrate address format.
const DefaultSS58Prefix uint8 = 42

var ss58Context = []byte("SS58PRE")

// ErrInvalidAddress is returned for malformed SS58 strings.
var ErrInvalidAddress = errors.New("invalid ss58 address")

// SS58Encode renders a 32 byte public key as an SS58 address.
func SS58Encode(pub []byte, prefix uint8) string {
	payload := append([]byte{prefix}, pub...)
	sum := ss58Checksum(payload)
	return base58.Encode(append(payload, sum[:2]...))
}

// SS58Decode returns the public key and network prefix of an address.
func SS58Decode(addr string) ([]byte, uint8, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != 35 {
		return nil, 0, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(raw))
	}
	payload, check := raw[:33], raw[33:]
	sum := ss58Checksum(payload)
	if !bytes.Equal(sum[:2], check) {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return append([]byte(nil), payload[1:]...), payload[0], nil
}

func ss58Checksum(payload []byte) [64]byte {
	return blake2b.Sum512(append(append([]byte(nil), ss58Context...), payload...))
}
