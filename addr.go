package bthost

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// EUI48 is a 48-bit extended unique identifier, the address of a BD/LE
// device. Stored in display order (most significant octet first); the wire
// carries it little-endian.
type EUI48 [6]byte

// ParseEUI48 parses a colon-separated or bare hex address string.
func ParseEUI48(s string) (EUI48, error) {
	var a EUI48
	hexStr := strings.Replace(strings.ToLower(s), ":", "", -1)
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return a, errors.Wrap(err, "can't parse address")
	}
	if len(b) != 6 {
		return a, fmt.Errorf("invalid address length %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

// MustParseEUI48 is ParseEUI48 for static addresses; panics on bad input.
func MustParseEUI48(s string) EUI48 {
	a, err := ParseEUI48(s)
	if err != nil {
		panic(err)
	}
	return a
}

// EUI48FromWire builds an address from its little-endian wire layout.
func EUI48FromWire(b []byte) EUI48 {
	var a EUI48
	for i := 0; i < 6 && i < len(b); i++ {
		a[5-i] = b[i]
	}
	return a
}

func (a EUI48) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// WireBytes returns the little-endian layout used on the HCI transport.
func (a EUI48) WireBytes() []byte {
	return []byte{a[5], a[4], a[3], a[2], a[1], a[0]}
}

// IsZero reports whether the address is all zero octets.
func (a EUI48) IsZero() bool {
	return a == EUI48{}
}

// AddrType is the LE address type of a peer [Vol 6, Part B, 1.3].
type AddrType uint8

const (
	AddrPublic         AddrType = 0x00
	AddrRandom         AddrType = 0x01
	AddrPublicIdentity AddrType = 0x02
	AddrRandomIdentity AddrType = 0x03
	AddrUndefined      AddrType = 0xff
)

func (t AddrType) String() string {
	switch t {
	case AddrPublic:
		return "public"
	case AddrRandom:
		return "random"
	case AddrPublicIdentity:
		return "public-identity"
	case AddrRandomIdentity:
		return "random-identity"
	default:
		return "undefined"
	}
}

// PeerID identifies a remote device within an adapter session.
type PeerID struct {
	Addr EUI48
	Type AddrType
}

func (p PeerID) String() string {
	return fmt.Sprintf("%s/%s", p.Addr, p.Type)
}
