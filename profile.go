package bthost

import (
	"encoding/json"
	"sync"
)

// Property is the characteristic property bitmask [Vol 3, Part G, 3.3.1.1].
type Property uint8

const (
	CharBroadcast   Property = 0x01
	CharRead        Property = 0x02
	CharWriteNR     Property = 0x04
	CharWrite       Property = 0x08
	CharNotify      Property = 0x10
	CharIndicate    Property = 0x20
	CharSignedWrite Property = 0x40
	CharExtended    Property = 0x80
)

// MaxAttrValueLen is the maximum length of an attribute value
// [Vol 3, Part F, 3.2.9].
const MaxAttrValueLen = 512

// Value is a capacity-bounded attribute value buffer. A variable-length
// value accepts writes up to its capacity; a fixed-length value accepts
// only writes of exactly its capacity. Oversized writes fail, they never
// truncate.
type Value struct {
	mu       sync.RWMutex
	buf      []byte
	capacity int
	variable bool
}

// NewValue returns an empty variable-length value of the given capacity.
func NewValue(capacity int) *Value {
	if capacity <= 0 || capacity > MaxAttrValueLen {
		capacity = MaxAttrValueLen
	}
	return &Value{capacity: capacity, variable: true}
}

// NewFixedValue returns a fixed-length value pre-sized to its capacity.
func NewFixedValue(capacity int) *Value {
	v := NewValue(capacity)
	v.variable = false
	v.buf = make([]byte, v.capacity)
	return v
}

// NewValueFrom returns a variable-length value seeded with b.
func NewValueFrom(b []byte, capacity int) *Value {
	v := NewValue(capacity)
	v.Set(b)
	return v
}

// Set stores a copy of b. It reports false, leaving the buffer intact,
// when b does not satisfy the length constraint.
func (v *Value) Set(b []byte) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(b) > v.capacity {
		return false
	}
	if !v.variable && len(b) != v.capacity {
		return false
	}
	v.buf = append(v.buf[:0], b...)
	return true
}

// Bytes returns a copy of the current value.
func (v *Value) Bytes() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]byte, len(v.buf))
	copy(out, v.buf)
	return out
}

// Len returns the current value length.
func (v *Value) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.buf)
}

// Capacity returns the declared capacity.
func (v *Value) Capacity() int { return v.capacity }

// Variable reports whether the value is variable-length.
func (v *Value) Variable() bool { return v.variable }

type valueJSON struct {
	Data     []byte `json:"data"`
	Capacity int    `json:"capacity"`
	Variable bool   `json:"variable"`
}

// MarshalJSON serializes buffer, capacity and length mode, so cached
// profiles restore with identical constraints.
func (v *Value) MarshalJSON() ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return json.Marshal(valueJSON{Data: v.buf, Capacity: v.capacity, Variable: v.variable})
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var j valueJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.buf = j.Data
	v.capacity = j.Capacity
	v.variable = j.Variable
	if v.capacity <= 0 {
		v.capacity = MaxAttrValueLen
	}
	return nil
}

// A Profile is the discovered attribute tree of one remote device.
type Profile struct {
	Services []*Service `json:"services"`
}

// A Service is one primary or secondary service, owning the handle range
// [Handle, EndHandle].
type Service struct {
	UUID            UUID              `json:"uuid"`
	Primary         bool              `json:"primary"`
	Handle          uint16            `json:"handle"`
	EndHandle       uint16            `json:"endHandle"`
	Characteristics []*Characteristic `json:"characteristics"`
}

// A Characteristic is a BLE characteristic: declaration handle, value
// handle, property bitmask and its descriptors.
type Characteristic struct {
	UUID        UUID          `json:"uuid"`
	Property    Property      `json:"property"`
	Handle      uint16        `json:"handle"`
	ValueHandle uint16        `json:"valueHandle"`
	EndHandle   uint16        `json:"endHandle"`
	Descriptors []*Descriptor `json:"descriptors"`
	Value       *Value        `json:"value,omitempty"`

	// CCCD is the client characteristic configuration descriptor, if the
	// characteristic has one. It also appears in Descriptors.
	CCCD *Descriptor `json:"-"`
}

// A Descriptor is a BLE descriptor.
type Descriptor struct {
	UUID   UUID   `json:"uuid"`
	Handle uint16 `json:"handle"`
	Value  *Value `json:"value,omitempty"`
}

// FindService returns the first service with the given UUID, or nil.
func (p *Profile) FindService(u UUID) *Service {
	for _, s := range p.Services {
		if s.UUID.Equal(u) {
			return s
		}
	}
	return nil
}

// FindCharacteristic returns the first characteristic with the given UUID
// across all services, or nil.
func (p *Profile) FindCharacteristic(u UUID) *Characteristic {
	for _, s := range p.Services {
		for _, c := range s.Characteristics {
			if c.UUID.Equal(u) {
				return c
			}
		}
	}
	return nil
}

// FindWithHandle searches services, then characteristics (declaration or
// value handle), then descriptors, for the given handle.
func (p *Profile) FindWithHandle(h uint16) interface{} {
	for _, s := range p.Services {
		if s.Handle == h {
			return s
		}
		for _, c := range s.Characteristics {
			if c.Handle == h || c.ValueHandle == h {
				return c
			}
			for _, d := range c.Descriptors {
				if d.Handle == h {
					return d
				}
			}
		}
	}
	return nil
}

// FindDescriptor locates a characteristic's descriptor by UUID, or nil.
func (c *Characteristic) FindDescriptor(u UUID) *Descriptor {
	for _, d := range c.Descriptors {
		if d.UUID.Equal(u) {
			return d
		}
	}
	return nil
}

// RestoreCCCD re-links the CCCD shortcut after deserialization.
func (p *Profile) RestoreCCCD() {
	for _, s := range p.Services {
		for _, c := range s.Characteristics {
			c.CCCD = c.FindDescriptor(ClientCharConfigUUID)
		}
	}
}
