package eir

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost"
)

// ErrEmptyPDU is returned for a nil or zero length payload.
var ErrEmptyPDU = errors.New("nil/empty pdu")

// AD structure types.
// https://www.bluetooth.org/en-us/specification/assigned-numbers/generic-access-profile
const (
	adFlags       = 0x01
	adUUID16Inc   = 0x02
	adUUID16Comp  = 0x03
	adUUID32Inc   = 0x04
	adUUID32Comp  = 0x05
	adUUID128Inc  = 0x06
	adUUID128Comp = 0x07
	adNameShort   = 0x08
	adNameComp    = 0x09
	adTxPower     = 0x0a
	adSol16       = 0x14
	adSol128      = 0x15
	adSvcData16   = 0x16
	adAppearance  = 0x19
	adSol32       = 0x1f
	adSvcData32   = 0x20
	adSvcData128  = 0x21
	adManufData   = 0xff
)

type adRecord struct {
	arrayElementSz int
	minSz          int
	svcDataUUIDSz  int
	apply          func(rec adRecord, r *Report, b []byte) error
}

func applyFlags(_ adRecord, r *Report, b []byte) error {
	r.Flags = b[0]
	r.Set |= DataFlags
	return nil
}

func applyNameShort(_ adRecord, r *Report, b []byte) error {
	// a complete name wins over a shortened one
	if r.Set.Has(DataName) && !r.NameIsShort {
		return nil
	}
	r.Name = string(b)
	r.NameIsShort = true
	r.Set |= DataName | DataNameShort
	return nil
}

func applyNameComp(_ adRecord, r *Report, b []byte) error {
	r.Name = string(b)
	r.NameIsShort = false
	r.Set |= DataName
	return nil
}

func applyTxPower(_ adRecord, r *Report, b []byte) error {
	r.TxPower = int8(b[0])
	r.Set |= DataTxPower
	return nil
}

func applyAppearance(_ adRecord, r *Report, b []byte) error {
	r.Appearance = binary.LittleEndian.Uint16(b)
	r.Set |= DataAppearance
	return nil
}

func applyManufData(_ adRecord, r *Report, b []byte) error {
	r.ManufID = binary.LittleEndian.Uint16(b[:2])
	r.ManufData = b[2:]
	r.Set |= DataManufData
	return nil
}

func applyServices(rec adRecord, r *Report, b []byte) error {
	uu, err := uuidArray(rec.arrayElementSz, b)
	if err != nil {
		return err
	}
	r.Services = append(r.Services, uu...)
	r.Set |= DataServices
	return nil
}

func applySolicited(rec adRecord, r *Report, b []byte) error {
	uu, err := uuidArray(rec.arrayElementSz, b)
	if err != nil {
		return err
	}
	r.Solicited = append(r.Solicited, uu...)
	r.Set |= DataSolicited
	return nil
}

func applyServiceData(rec adRecord, r *Report, b []byte) error {
	sz := rec.svcDataUUIDSz
	u := make(bthost.UUID, sz)
	copy(u, b[:sz])
	d := make([]byte, len(b)-sz)
	copy(d, b[sz:])
	r.ServiceData = append(r.ServiceData, ServiceData{UUID: u, Data: d})
	r.Set |= DataServiceData
	return nil
}

var adDecodeMap = map[byte]adRecord{
	adFlags:       {0, 1, 0, applyFlags},
	adUUID16Inc:   {2, 2, 0, applyServices},
	adUUID16Comp:  {2, 2, 0, applyServices},
	adUUID32Inc:   {4, 4, 0, applyServices},
	adUUID32Comp:  {4, 4, 0, applyServices},
	adUUID128Inc:  {16, 16, 0, applyServices},
	adUUID128Comp: {16, 16, 0, applyServices},
	adSol16:       {2, 2, 0, applySolicited},
	adSol32:       {4, 4, 0, applySolicited},
	adSol128:      {16, 16, 0, applySolicited},
	adSvcData16:   {0, 2, 2, applyServiceData},
	adSvcData32:   {0, 4, 4, applyServiceData},
	adSvcData128:  {0, 16, 16, applyServiceData},
	adNameShort:   {0, 1, 0, applyNameShort},
	adNameComp:    {0, 1, 0, applyNameComp},
	adTxPower:     {0, 1, 0, applyTxPower},
	adAppearance:  {0, 2, 0, applyAppearance},
	adManufData:   {0, 3, 0, applyManufData},
}

func uuidArray(size int, b []byte) ([]bthost.UUID, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid size")
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("nil/empty bytes")
	}
	count := len(b) / size
	rem := len(b) % size
	if rem != 0 || count == 0 {
		return nil, fmt.Errorf("incorrect size")
	}

	arr := make([]bthost.UUID, 0, count)
	for j := 0; j < len(b); j += size {
		u := make(bthost.UUID, size)
		copy(u, b[j:j+size])
		arr = append(arr, u)
	}
	return arr, nil
}

// Parse decodes a raw AD-structure payload into a Report. Unknown record
// types are skipped; a malformed record aborts the parse, returning what
// was decoded so far plus an error.
func Parse(pdu []byte) (*Report, error) {
	r := &Report{}
	return r, ParseInto(r, pdu)
}

// ParseInto decodes pdu into an existing report.
func ParseInto(r *Report, pdu []byte) error {
	if len(pdu) == 0 {
		return ErrEmptyPDU
	}

	for i := 0; (i + 1) < len(pdu); {
		// length @ offset 0, type @ offset 1, data following
		length := int(pdu[i])
		typ := pdu[i+1]

		// length covers the type byte, so it is at least 1
		if length < 1 {
			return fmt.Errorf("invalid record length %v, idx %v", length, i)
		}
		if (i + length) >= len(pdu) {
			return fmt.Errorf("buffer overflow: want %v, have %v, idx %v", i+length, len(pdu), i)
		}

		start := i + 2
		end := start + length - 1
		b := make([]byte, end-start)
		copy(b, pdu[start:end])

		dec, ok := adDecodeMap[typ]
		if ok && len(b) != 0 {
			if dec.minSz > len(b) {
				return fmt.Errorf("record too short: type %#x, want %v, have %v", typ, dec.minSz, len(b))
			}
			if err := dec.apply(dec, r, b); err != nil {
				return errors.Wrapf(err, "ad record type %#x", typ)
			}
		}

		i = end
	}
	return nil
}
