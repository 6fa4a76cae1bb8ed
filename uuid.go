package bthost

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// A UUID is a BLE UUID. 16-bit and 32-bit UUIDs are the SIG-assigned short
// forms; 128-bit UUIDs are full custom types. Stored little-endian, the way
// they travel in ATT PDUs.
type UUID []byte

// UUID16 converts a uint16 (such as 0x1800) to a UUID.
func UUID16(i uint16) UUID {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, i)
	return UUID(b)
}

// UUID32 converts a uint32 to a UUID.
func UUID32(i uint32) UUID {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, i)
	return UUID(b)
}

// ParseUUID parses a standard-format UUID string, such
// as "1800" or "34DA3AD1-7110-41A1-B1EF-4430F509CDE7".
func ParseUUID(s string) (UUID, error) {
	s = strings.Replace(s, "-", "", -1)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	switch len(b) {
	case 2, 4, 16:
	default:
		return nil, fmt.Errorf("UUIDs must have length 2, 4 or 16, got %d", len(b))
	}
	return UUID(Reverse(b)), nil
}

// MustParseUUID parses a standard-format UUID string,
// like ParseUUID, but panics in case of error.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Len returns the length of the UUID, in bytes.
func (u UUID) Len() int { return len(u) }

// String hex-encodes a UUID in display order.
func (u UUID) String() string { return fmt.Sprintf("%x", Reverse(u)) }

// Equal returns a boolean reporting whether v represents the same UUID as u.
func (u UUID) Equal(v UUID) bool { return bytes.Equal(u, v) }

// ContainsUUID reports whether u is in the slice s. A nil slice matches
// everything, which is how discovery filters express "no filter".
func ContainsUUID(s []UUID, u UUID) bool {
	if s == nil {
		return true
	}
	for _, a := range s {
		if a.Equal(u) {
			return true
		}
	}
	return false
}

// Reverse returns a reversed copy of u.
func Reverse(u []byte) []byte {
	// Special-case 16 bit UUIDS for speed.
	l := len(u)
	if l == 0 {
		return []byte{}
	}
	if l == 2 {
		return []byte{u[1], u[0]}
	}
	b := make([]byte, l)
	for i := 0; i < l/2+1; i++ {
		b[i], b[l-i-1] = u[l-i-1], u[i]
	}
	return b
}

// SIG-assigned UUIDs used by the stack itself.
var (
	GAPServiceUUID        = UUID16(0x1800)
	GATTServiceUUID       = UUID16(0x1801)
	DeviceNameUUID        = UUID16(0x2A00)
	AppearanceUUID        = UUID16(0x2A01)
	PrimaryServiceUUID    = UUID16(0x2800)
	SecondaryServiceUUID  = UUID16(0x2801)
	IncludeUUID           = UUID16(0x2802)
	CharacteristicUUID    = UUID16(0x2803)
	ClientCharConfigUUID  = UUID16(0x2902)
	ServerCharConfigUUID  = UUID16(0x2903)
	CharUserDescUUID      = UUID16(0x2901)
	CharExtPropertiesUUID = UUID16(0x2900)
)
