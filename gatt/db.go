// Package gatt implements the Generic Attribute Profile on both sides of a
// connection: the client (service discovery, read/write, subscriptions)
// and the server (a locally defined attribute table answering a remote
// central).
package gatt

import (
	"encoding/binary"

	"github.com/airlinklabs/bthost"
)

type attrKind int

const (
	kindService attrKind = iota
	kindCharDecl
	kindCharValue
	kindDesc
)

// attr is one row of the flattened attribute table.
type attr struct {
	h    uint16
	endh uint16
	typ  bthost.UUID
	v    []byte // static declaration value, nil for dynamic rows

	kind attrKind
	svc  *ServiceDef
	char *CharDef
	desc *DescDef
}

// db is a contiguous range of attributes, total-ordered by handle.
type db struct {
	attrs []*attr
	base  uint16
}

const (
	tooSmall = -1
	tooLarge = -2
)

// idx returns the index into attrs corresponding to handle h.
func (r *db) idx(h int) int {
	if h < int(r.base) {
		return tooSmall
	}
	if h >= int(r.base)+len(r.attrs) {
		return tooLarge
	}
	return h - int(r.base)
}

// at returns the attribute with handle h.
func (r *db) at(h uint16) (*attr, bool) {
	i := r.idx(int(h))
	if i < 0 {
		return nil, false
	}
	return r.attrs[i], true
}

// subrange returns attributes in range [start, end]; it may return an
// empty slice. subrange does not panic for out-of-range start or end.
func (r *db) subrange(start, end uint16) []*attr {
	startidx := r.idx(int(start))
	switch startidx {
	case tooSmall:
		startidx = 0
	case tooLarge:
		return []*attr{}
	}

	endidx := r.idx(int(end) + 1) // [start, end] includes its upper bound
	switch endidx {
	case tooSmall:
		return []*attr{}
	case tooLarge:
		endidx = len(r.attrs)
	}
	return r.attrs[startidx:endidx]
}

// newDB flattens the service definitions into an attribute table starting
// at base, assigning declaration/value/descriptor handles as it goes.
func newDB(ss []*ServiceDef, base uint16) *db {
	h := base
	var attrs []*attr
	var aa []*attr
	for i, s := range ss {
		h, aa = genSvcAttrs(s, h)
		if i == len(ss)-1 {
			aa[0].endh = 0xFFFF
			s.endHandle = 0xFFFF
		}
		attrs = append(attrs, aa...)
	}
	return &db{attrs: attrs, base: base}
}

func genSvcAttrs(s *ServiceDef, h uint16) (uint16, []*attr) {
	typ := bthost.PrimaryServiceUUID
	if !s.Primary {
		typ = bthost.SecondaryServiceUUID
	}
	a := &attr{
		h:    h,
		typ:  typ,
		v:    s.UUID,
		kind: kindService,
		svc:  s,
	}
	s.handle = h
	h++
	attrs := []*attr{a}
	var aa []*attr

	for _, c := range s.Chars {
		h, aa = genCharAttrs(s, c, h)
		attrs = append(attrs, aa...)
	}

	a.endh = h - 1
	s.endHandle = h - 1
	return h, attrs
}

func genCharAttrs(s *ServiceDef, c *CharDef, h uint16) (uint16, []*attr) {
	vh := h + 1
	decl := append([]byte{byte(c.Properties), byte(vh), byte(vh >> 8)}, c.UUID...)
	declAttr := &attr{
		h:    h,
		typ:  bthost.CharacteristicUUID,
		v:    decl,
		kind: kindCharDecl,
		svc:  s,
		char: c,
	}
	valAttr := &attr{
		h:    vh,
		typ:  c.UUID,
		kind: kindCharValue,
		svc:  s,
		char: c,
	}
	c.handle = h
	c.valueHandle = vh
	h = vh + 1

	attrs := []*attr{declAttr, valAttr}
	for _, d := range c.Descriptors {
		d.handle = h
		attrs = append(attrs, &attr{
			h:    h,
			typ:  d.UUID,
			kind: kindDesc,
			svc:  s,
			char: c,
			desc: d,
		})
		h++
	}
	c.endHandle = h - 1
	return h, attrs
}

// groupEntries packs service attributes into a Read By Group Type
// response body. Entries in one response share a single UUID length, so
// packing stops at the first size switch [Vol 3, Part F, 3.4.4.10].
func groupEntries(aa []*attr, mtu int) (entryLen int, data []byte) {
	for _, a := range aa {
		if a.kind != kindService {
			continue
		}
		el := 4 + len(a.v)
		if entryLen == 0 {
			entryLen = el
		}
		if el != entryLen || len(data)+entryLen > mtu-2 {
			break
		}
		e := make([]byte, el)
		binary.LittleEndian.PutUint16(e, a.h)
		binary.LittleEndian.PutUint16(e[2:], a.endh)
		copy(e[4:], a.v)
		data = append(data, e...)
	}
	return entryLen, data
}

// typeEntries packs characteristic declarations into a Read By Type
// response body, under the same uniform-length rule.
func typeEntries(aa []*attr, typ bthost.UUID, mtu int) (entryLen int, data []byte) {
	for _, a := range aa {
		if !a.typ.Equal(typ) || a.v == nil {
			continue
		}
		el := 2 + len(a.v)
		if entryLen == 0 {
			entryLen = el
		}
		if el != entryLen || len(data)+entryLen > mtu-2 {
			break
		}
		e := make([]byte, el)
		binary.LittleEndian.PutUint16(e, a.h)
		copy(e[2:], a.v)
		data = append(data, e...)
	}
	return entryLen, data
}

// infoEntries packs descriptor rows into a Find Information response
// body. Format 1 carries 16-bit UUIDs, format 2 full 128-bit ones.
func infoEntries(aa []*attr, mtu int) (format uint8, data []byte) {
	for _, a := range aa {
		if a.kind != kindDesc {
			continue
		}
		var f uint8 = 0x01
		if a.typ.Len() != 2 {
			f = 0x02
		}
		if format == 0 {
			format = f
		}
		if f != format || len(data)+2+a.typ.Len() > mtu-2 {
			break
		}
		e := make([]byte, 2+a.typ.Len())
		binary.LittleEndian.PutUint16(e, a.h)
		copy(e[2:], a.typ)
		data = append(data, e...)
	}
	return format, data
}
