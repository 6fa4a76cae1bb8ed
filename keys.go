package bthost

import (
	"encoding/binary"
	"fmt"
)

// KeyProperty flags carried with SMP key material.
type KeyProperty uint8

const (
	KeyPropResponder KeyProperty = 1 << 0 // key belongs to the responder role
	KeyPropAuth      KeyProperty = 1 << 1 // authenticated (MITM protected)
	KeyPropSC        KeyProperty = 1 << 2 // LE secure connections derived
)

// LongTermKey is the SMP long term key record. The binary layout is fixed
// (28 bytes, little-endian) and round-trips byte-for-byte so persisted key
// files stay interoperable.
type LongTermKey struct {
	Properties KeyProperty
	EncSize    uint8
	EDiv       uint16
	Rand       uint64
	LTK        [16]byte
}

// LongTermKeySize is the serialized size of a LongTermKey.
const LongTermKeySize = 28

// Marshal serializes the record into its fixed wire layout.
func (k LongTermKey) Marshal() []byte {
	b := make([]byte, LongTermKeySize)
	b[0] = byte(k.Properties)
	b[1] = k.EncSize
	binary.LittleEndian.PutUint16(b[2:], k.EDiv)
	binary.LittleEndian.PutUint64(b[4:], k.Rand)
	copy(b[12:], k.LTK[:])
	return b
}

// Unmarshal parses the fixed layout produced by Marshal.
func (k *LongTermKey) Unmarshal(b []byte) error {
	if len(b) != LongTermKeySize {
		return fmt.Errorf("ltk record must be %d bytes, got %d", LongTermKeySize, len(b))
	}
	k.Properties = KeyProperty(b[0])
	k.EncSize = b[1]
	k.EDiv = binary.LittleEndian.Uint16(b[2:])
	k.Rand = binary.LittleEndian.Uint64(b[4:])
	copy(k.LTK[:], b[12:])
	return nil
}

// IsValid reports whether the record holds usable key material.
func (k LongTermKey) IsValid() bool {
	return k.EncSize >= 7 && k.EncSize <= 16 && k.LTK != [16]byte{}
}

// IdentityResolvingKey resolves random resolvable addresses back to the
// peer identity. 24 bytes serialized.
type IdentityResolvingKey struct {
	Properties KeyProperty
	IRK        [16]byte
	ID         EUI48
	IDAddrType AddrType
}

// IdentityResolvingKeySize is the serialized size of an IdentityResolvingKey.
const IdentityResolvingKeySize = 24

func (k IdentityResolvingKey) Marshal() []byte {
	b := make([]byte, IdentityResolvingKeySize)
	b[0] = byte(k.Properties)
	copy(b[1:], k.IRK[:])
	copy(b[17:], k.ID.WireBytes())
	b[23] = byte(k.IDAddrType)
	return b
}

func (k *IdentityResolvingKey) Unmarshal(b []byte) error {
	if len(b) != IdentityResolvingKeySize {
		return fmt.Errorf("irk record must be %d bytes, got %d", IdentityResolvingKeySize, len(b))
	}
	k.Properties = KeyProperty(b[0])
	copy(k.IRK[:], b[1:17])
	k.ID = EUI48FromWire(b[17:23])
	k.IDAddrType = AddrType(b[23])
	return nil
}

func (k IdentityResolvingKey) IsValid() bool { return k.IRK != [16]byte{} }

// SignatureResolvingKey carries the CSRK and its signing counter.
// 21 bytes serialized.
type SignatureResolvingKey struct {
	Properties KeyProperty
	CSRK       [16]byte
	Counter    uint32
}

// SignatureResolvingKeySize is the serialized size of a SignatureResolvingKey.
const SignatureResolvingKeySize = 21

func (k SignatureResolvingKey) Marshal() []byte {
	b := make([]byte, SignatureResolvingKeySize)
	b[0] = byte(k.Properties)
	copy(b[1:], k.CSRK[:])
	binary.LittleEndian.PutUint32(b[17:], k.Counter)
	return b
}

func (k *SignatureResolvingKey) Unmarshal(b []byte) error {
	if len(b) != SignatureResolvingKeySize {
		return fmt.Errorf("csrk record must be %d bytes, got %d", SignatureResolvingKeySize, len(b))
	}
	k.Properties = KeyProperty(b[0])
	copy(k.CSRK[:], b[1:17])
	k.Counter = binary.LittleEndian.Uint32(b[17:])
	return nil
}

func (k SignatureResolvingKey) IsValid() bool { return k.CSRK != [16]byte{} }

// LinkKey is the BR/EDR link key derived via cross-transport key
// derivation. 19 bytes serialized.
type LinkKey struct {
	Responder bool
	Type      uint8
	Key       [16]byte
	PINLength uint8
}

// LinkKeySize is the serialized size of a LinkKey.
const LinkKeySize = 19

func (k LinkKey) Marshal() []byte {
	b := make([]byte, LinkKeySize)
	if k.Responder {
		b[0] = 1
	}
	b[1] = k.Type
	copy(b[2:], k.Key[:])
	b[18] = k.PINLength
	return b
}

func (k *LinkKey) Unmarshal(b []byte) error {
	if len(b) != LinkKeySize {
		return fmt.Errorf("link key record must be %d bytes, got %d", LinkKeySize, len(b))
	}
	k.Responder = b[0] != 0
	k.Type = b[1]
	copy(k.Key[:], b[2:18])
	k.PINLength = b[18]
	return nil
}

func (k LinkKey) IsValid() bool { return k.Key != [16]byte{} }

// KeySet is the complete key material of one pairing role.
type KeySet struct {
	LTK  *LongTermKey
	IRK  *IdentityResolvingKey
	CSRK *SignatureResolvingKey
	Link *LinkKey
}
