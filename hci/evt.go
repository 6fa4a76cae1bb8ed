package hci

import (
	"encoding/binary"
	"fmt"
)

// Event codes [Vol 2, Part E, 7.7].
const (
	disconnectionCompleteCode    = 0x05
	encryptionChangeCode         = 0x08
	commandCompleteCode          = 0x0e
	commandStatusCode            = 0x0f
	numberOfCompletedPacketsCode = 0x13
	leMetaCode                   = 0x3e
)

// LE meta event subcodes [Vol 2, Part E, 7.7.65].
const (
	leConnectionCompleteSubCode       = 0x01
	leAdvertisingReportSubCode        = 0x02
	leConnectionUpdateCompleteSubCode = 0x03
	leLongTermKeyRequestSubCode       = 0x05
)

// Event parameter blocks are kept as raw bytes with accessor methods; a
// malformed packet yields the accessor's default rather than a panic.

type commandComplete []byte

func (e commandComplete) numHCICommandPackets() uint8 { return getByte(e, 0, 0) }
func (e commandComplete) commandOpcode() uint16       { return getUint16(e, 1, 0xffff) }
func (e commandComplete) returnParameters() []byte    { return getTail(e, 3) }

type commandStatus []byte

func (e commandStatus) status() uint8                { return getByte(e, 0, 0xff) }
func (e commandStatus) numHCICommandPackets() uint8  { return getByte(e, 1, 0) }
func (e commandStatus) commandOpcode() uint16        { return getUint16(e, 2, 0xffff) }

type disconnectionComplete []byte

func (e disconnectionComplete) status() uint8            { return getByte(e, 0, 0xff) }
func (e disconnectionComplete) connectionHandle() uint16 { return getUint16(e, 1, 0xffff) }
func (e disconnectionComplete) reason() uint8            { return getByte(e, 3, 0xff) }

type encryptionChange []byte

func (e encryptionChange) status() uint8             { return getByte(e, 0, 0xff) }
func (e encryptionChange) connectionHandle() uint16  { return getUint16(e, 1, 0xffff) }
func (e encryptionChange) encryptionEnabled() uint8  { return getByte(e, 3, 0) }

type numberOfCompletedPackets []byte

func (e numberOfCompletedPackets) numberOfHandles() uint8 { return getByte(e, 0, 0) }
func (e numberOfCompletedPackets) connectionHandle(i int) uint16 {
	return getUint16(e, 1+i*4, 0xffff)
}
func (e numberOfCompletedPackets) completedPackets(i int) uint16 {
	return getUint16(e, 3+i*4, 0)
}

type leConnectionComplete []byte

func (e leConnectionComplete) subeventCode() uint8      { return getByte(e, 0, 0xff) }
func (e leConnectionComplete) status() uint8            { return getByte(e, 1, 0xff) }
func (e leConnectionComplete) connectionHandle() uint16 { return getUint16(e, 2, 0xffff) }
func (e leConnectionComplete) role() uint8              { return getByte(e, 4, 0xff) }
func (e leConnectionComplete) peerAddressType() uint8   { return getByte(e, 5, 0xff) }
func (e leConnectionComplete) peerAddress() []byte      { return getSlice(e, 6, 6) }
func (e leConnectionComplete) connInterval() uint16     { return getUint16(e, 12, 0) }

type leLongTermKeyRequest []byte

func (e leLongTermKeyRequest) connectionHandle() uint16 { return getUint16(e, 1, 0xffff) }
func (e leLongTermKeyRequest) randomNumber() uint64 {
	b := getSlice(e, 3, 8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}
func (e leLongTermKeyRequest) encryptedDiversifier() uint16 { return getUint16(e, 11, 0) }

// leAdvertisingReport parses the variable-layout report packet; its
// accessors return errors because controllers routinely mangle these.
type leAdvertisingReport []byte

func (e leAdvertisingReport) numReports() (int, error) {
	if len(e) < 2 {
		return 0, fmt.Errorf("adv report too short: %d", len(e))
	}
	return int(e[1]), nil
}

func (e leAdvertisingReport) eventType(i int) (uint8, error) {
	return e.checked(2+i, 1)
}

func (e leAdvertisingReport) addressType(i int) (uint8, error) {
	nr, err := e.numReports()
	if err != nil {
		return 0, err
	}
	return e.checked(2+nr+i, 1)
}

func (e leAdvertisingReport) address(i int) ([]byte, error) {
	nr, err := e.numReports()
	if err != nil {
		return nil, err
	}
	si := 2 + nr*2 + 6*i
	if si+6 > len(e) {
		return nil, fmt.Errorf("adv report address out of range")
	}
	return e[si : si+6], nil
}

func (e leAdvertisingReport) dataLength(i int) (int, error) {
	nr, err := e.numReports()
	if err != nil {
		return 0, err
	}
	v, err := e.checked(2+nr*8+i, 1)
	return int(v), err
}

func (e leAdvertisingReport) data(i int) ([]byte, error) {
	nr, err := e.numReports()
	if err != nil {
		return nil, err
	}
	off := 0
	for j := 0; j < i; j++ {
		l, err := e.dataLength(j)
		if err != nil {
			return nil, err
		}
		off += l
	}
	l, err := e.dataLength(i)
	if err != nil {
		return nil, err
	}
	si := 2 + nr*9 + off
	if si+l > len(e) {
		return nil, fmt.Errorf("adv report data out of range")
	}
	return e[si : si+l], nil
}

func (e leAdvertisingReport) rssi(i int) (int8, error) {
	nr, err := e.numReports()
	if err != nil {
		return 0, err
	}
	total := 0
	for j := 0; j < nr; j++ {
		l, err := e.dataLength(j)
		if err != nil {
			return 0, err
		}
		total += l
	}
	v, err := e.checked(2+nr*9+total+i, 1)
	return int8(v), err
}

func (e leAdvertisingReport) checked(i, n int) (uint8, error) {
	if i+n > len(e) {
		return 0, fmt.Errorf("adv report index %d out of range", i)
	}
	return e[i], nil
}

func getByte(b []byte, i int, def byte) byte {
	if i >= len(b) {
		return def
	}
	return b[i]
}

func getUint16(b []byte, i int, def uint16) uint16 {
	if i+2 > len(b) {
		return def
	}
	return binary.LittleEndian.Uint16(b[i:])
}

func getSlice(b []byte, i, n int) []byte {
	if i+n > len(b) {
		return nil
	}
	return b[i : i+n]
}

func getTail(b []byte, i int) []byte {
	if i >= len(b) {
		return nil
	}
	return b[i:]
}
