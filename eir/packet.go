package eir

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost"
)

// MaxPacketLength is the legacy advertising payload limit.
const MaxPacketLength = 31

// Flag bits of the adFlags structure.
const (
	FlagLimitedDiscoverable = 0x01
	FlagGeneralDiscoverable = 0x02
	FlagLEOnly              = 0x04
	FlagBothController      = 0x08
	FlagBothHost            = 0x10
)

var (
	// ErrNotFit means the field doesn't fit into the packet.
	ErrNotFit = errors.New("it doesn't fit")
	// ErrInvalid means the field content is invalid.
	ErrInvalid = errors.New("invalid")
)

// Packet assembles an advertising or scan response payload from AD
// structure fields.
type Packet struct {
	b []byte
}

// NewPacket returns a packet seeded with the given fields.
func NewPacket(fields ...Field) (*Packet, error) {
	p := &Packet{b: make([]byte, 0, MaxPacketLength)}
	for _, f := range fields {
		if err := f(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Bytes returns the bytes of the packet.
func (p *Packet) Bytes() []byte { return p.b }

// Len returns the length of the packet.
func (p *Packet) Len() int { return len(p.b) }

// A Field is an advertising field which can be appended to a packet.
type Field func(p *Packet) error

// Append appends a field to the packet. It returns ErrNotFit if the field
// doesn't fit, and leaves the packet intact.
func (p *Packet) Append(f Field) error {
	return f(p)
}

func (p *Packet) append(typ byte, b []byte) error {
	if p.Len()+1+1+len(b) > MaxPacketLength {
		return ErrNotFit
	}
	p.b = append(p.b, byte(len(b)+1))
	p.b = append(p.b, typ)
	p.b = append(p.b, b...)
	return nil
}

// Raw appends pre-encoded AD structures to the packet.
func Raw(b []byte) Field {
	return func(p *Packet) error {
		if p.Len()+len(b) > MaxPacketLength {
			return ErrNotFit
		}
		p.b = append(p.b, b...)
		return nil
	}
}

// Flags appends a flags field.
func Flags(f byte) Field {
	return func(p *Packet) error {
		return p.append(adFlags, []byte{f})
	}
}

// TxPower appends a tx power field.
func TxPower(pwr int8) Field {
	return func(p *Packet) error {
		return p.append(adTxPower, []byte{uint8(pwr)})
	}
}

// CompleteName appends a complete local name field.
func CompleteName(name string) Field {
	return func(p *Packet) error {
		return p.append(adNameComp, []byte(name))
	}
}

// ShortName appends a shortened local name field.
func ShortName(name string) Field {
	return func(p *Packet) error {
		return p.append(adNameShort, []byte(name))
	}
}

// ManufacturerData appends a manufacturer specific data field.
func ManufacturerData(id uint16, b []byte) Field {
	return func(p *Packet) error {
		d := append([]byte{uint8(id), uint8(id >> 8)}, b...)
		return p.append(adManufData, d)
	}
}

// ServiceData16 appends a service data field for a 16-bit UUID service.
func ServiceData16(id uint16, b []byte) Field {
	return func(p *Packet) error {
		uuid := bthost.UUID16(id)
		if err := uuidFit([]bthost.UUID{uuid}); err != nil {
			return err
		}
		return p.append(adSvcData16, append(uuid, b...))
	}
}

// AllUUID appends a complete service UUID list field.
func AllUUID(u bthost.UUID) Field {
	return func(p *Packet) error {
		switch u.Len() {
		case 2:
			return p.append(adUUID16Comp, u)
		case 4:
			return p.append(adUUID32Comp, u)
		default:
			return p.append(adUUID128Comp, u)
		}
	}
}

// SomeUUID appends an incomplete service UUID list field.
func SomeUUID(u bthost.UUID) Field {
	return func(p *Packet) error {
		switch u.Len() {
		case 2:
			return p.append(adUUID16Inc, u)
		case 4:
			return p.append(adUUID32Inc, u)
		default:
			return p.append(adUUID128Inc, u)
		}
	}
}

// Appearance appends an appearance field.
func Appearance(a uint16) Field {
	return func(p *Packet) error {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, a)
		return p.append(adAppearance, b)
	}
}

func uuidFit(uu []bthost.UUID) error {
	for _, u := range uu {
		switch u.Len() {
		case 2, 4, 16:
		default:
			return ErrInvalid
		}
	}
	return nil
}

// BuildAdvertisement lays out name and service UUIDs across the
// advertising data and scan response, fitting the UUIDs into the AD as far
// as they go and spilling the name into the scan response when needed.
func BuildAdvertisement(name string, uuids []bthost.UUID, manufID uint16, manufData []byte) (ad, sr []byte, err error) {
	adp, err := NewPacket(Flags(FlagGeneralDiscoverable | FlagLEOnly))
	if err != nil {
		return nil, nil, err
	}
	f := AllUUID

	// Current length of ad packet plus two bytes of length and tag.
	l := adp.Len() + 1 + 1
	for _, u := range uuids {
		l += u.Len()
	}
	if l > MaxPacketLength {
		f = SomeUUID
	}
	for _, u := range uuids {
		if err := adp.Append(f(u)); err != nil {
			if err == ErrNotFit {
				break
			}
			return nil, nil, err
		}
	}
	srp, _ := NewPacket()
	if name != "" {
		switch {
		case adp.Append(CompleteName(name)) == nil:
		case srp.Append(CompleteName(name)) == nil:
		case srp.Append(ShortName(name)) == nil:
		}
	}
	if manufData != nil {
		md := ManufacturerData(manufID, manufData)
		switch {
		case adp.Append(md) == nil:
		case srp.Append(md) == nil:
		}
	}
	return adp.Bytes(), srp.Bytes(), nil
}
