package hci

import (
	"bytes"
	"encoding/binary"
	"io"
)

// A Command is a marshalable HCI command.
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}

// A CommandRP holds the return parameters of a command.
type CommandRP interface {
	Unmarshal(b []byte) error
}

func marshal(c Command, b []byte) error {
	buf := bytes.NewBuffer(b)
	buf.Reset()
	if buf.Cap() < c.Len() {
		return io.ErrShortBuffer
	}
	return binary.Write(buf, binary.LittleEndian, c)
}

func unmarshal(c CommandRP, b []byte) error {
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, c)
}

func opcode(ogf, ocf int) int { return ogf<<10 | ocf }

// Reset implements Reset (0x03|0x0003) [Vol 2, Part E, 7.3.2].
type Reset struct{}

func (c *Reset) OpCode() int           { return opcode(0x03, 0x0003) }
func (c *Reset) Len() int              { return 0 }
func (c *Reset) Marshal(b []byte) error { return marshal(c, b) }

// ResetRP returns the status of the Reset command.
type ResetRP struct {
	Status uint8
}

func (c *ResetRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// SetEventMask implements Set Event Mask (0x03|0x0001) [Vol 2, Part E, 7.3.1].
type SetEventMask struct {
	EventMask uint64
}

func (c *SetEventMask) OpCode() int           { return opcode(0x03, 0x0001) }
func (c *SetEventMask) Len() int              { return 8 }
func (c *SetEventMask) Marshal(b []byte) error { return marshal(c, b) }

// SetEventMaskRP returns the status of the SetEventMask command.
type SetEventMaskRP struct {
	Status uint8
}

func (c *SetEventMaskRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// WriteLEHostSupport implements Write LE Host Support (0x03|0x006D) [Vol 2, Part E, 7.3.79].
type WriteLEHostSupport struct {
	LESupportedHost    uint8
	SimultaneousLEHost uint8
}

func (c *WriteLEHostSupport) OpCode() int           { return opcode(0x03, 0x006d) }
func (c *WriteLEHostSupport) Len() int              { return 2 }
func (c *WriteLEHostSupport) Marshal(b []byte) error { return marshal(c, b) }

// WriteLEHostSupportRP returns the status of the WriteLEHostSupport command.
type WriteLEHostSupportRP struct {
	Status uint8
}

func (c *WriteLEHostSupportRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// Disconnect implements Disconnect (0x01|0x0006) [Vol 2, Part E, 7.1.6].
// Completion arrives as a Disconnection Complete event.
type Disconnect struct {
	ConnectionHandle uint16
	Reason           uint8
}

func (c *Disconnect) OpCode() int           { return opcode(0x01, 0x0006) }
func (c *Disconnect) Len() int              { return 3 }
func (c *Disconnect) Marshal(b []byte) error { return marshal(c, b) }

// ReadBDADDR implements Read BD_ADDR (0x04|0x0009) [Vol 2, Part E, 7.4.6].
type ReadBDADDR struct{}

func (c *ReadBDADDR) OpCode() int           { return opcode(0x04, 0x0009) }
func (c *ReadBDADDR) Len() int              { return 0 }
func (c *ReadBDADDR) Marshal(b []byte) error { return marshal(c, b) }

// ReadBDADDRRP returns the controller address, little-endian.
type ReadBDADDRRP struct {
	Status uint8
	BDADDR [6]byte
}

func (c *ReadBDADDRRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// ReadBufferSize implements Read Buffer Size (0x04|0x0005) [Vol 2, Part E, 7.4.5].
type ReadBufferSize struct{}

func (c *ReadBufferSize) OpCode() int           { return opcode(0x04, 0x0005) }
func (c *ReadBufferSize) Len() int              { return 0 }
func (c *ReadBufferSize) Marshal(b []byte) error { return marshal(c, b) }

// ReadBufferSizeRP returns the shared ACL buffer geometry.
type ReadBufferSizeRP struct {
	Status                           uint8
	HCACLDataPacketLength            uint16
	HCSynchronousDataPacketLength    uint8
	HCTotalNumACLDataPackets         uint16
	HCTotalNumSynchronousDataPackets uint16
}

func (c *ReadBufferSizeRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// ReadRSSI implements Read RSSI (0x05|0x0005) [Vol 2, Part E, 7.5.4].
type ReadRSSI struct {
	Handle uint16
}

func (c *ReadRSSI) OpCode() int           { return opcode(0x05, 0x0005) }
func (c *ReadRSSI) Len() int              { return 2 }
func (c *ReadRSSI) Marshal(b []byte) error { return marshal(c, b) }

// ReadRSSIRP returns the RSSI of a connection handle.
type ReadRSSIRP struct {
	Status uint8
	Handle uint16
	RSSI   int8
}

func (c *ReadRSSIRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetEventMask implements LE Set Event Mask (0x08|0x0001) [Vol 2, Part E, 7.8.1].
type LESetEventMask struct {
	LEEventMask uint64
}

func (c *LESetEventMask) OpCode() int           { return opcode(0x08, 0x0001) }
func (c *LESetEventMask) Len() int              { return 8 }
func (c *LESetEventMask) Marshal(b []byte) error { return marshal(c, b) }

// LESetEventMaskRP returns the status of the LESetEventMask command.
type LESetEventMaskRP struct {
	Status uint8
}

func (c *LESetEventMaskRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEReadBufferSize implements LE Read Buffer Size (0x08|0x0002) [Vol 2, Part E, 7.8.2].
type LEReadBufferSize struct{}

func (c *LEReadBufferSize) OpCode() int           { return opcode(0x08, 0x0002) }
func (c *LEReadBufferSize) Len() int              { return 0 }
func (c *LEReadBufferSize) Marshal(b []byte) error { return marshal(c, b) }

// LEReadBufferSizeRP returns the LE-U buffer geometry; zero packets means
// the ACL buffers are shared.
type LEReadBufferSizeRP struct {
	Status                  uint8
	HCLEDataPacketLength    uint16
	HCTotalNumLEDataPackets uint8
}

func (c *LEReadBufferSizeRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetAdvertisingParameters implements LE Set Advertising Parameters
// (0x08|0x0006) [Vol 2, Part E, 7.8.5].
type LESetAdvertisingParameters struct {
	AdvertisingIntervalMin  uint16
	AdvertisingIntervalMax  uint16
	AdvertisingType         uint8
	OwnAddressType          uint8
	DirectAddressType       uint8
	DirectAddress           [6]byte
	AdvertisingChannelMap   uint8
	AdvertisingFilterPolicy uint8
}

func (c *LESetAdvertisingParameters) OpCode() int           { return opcode(0x08, 0x0006) }
func (c *LESetAdvertisingParameters) Len() int              { return 15 }
func (c *LESetAdvertisingParameters) Marshal(b []byte) error { return marshal(c, b) }

// LESetAdvertisingParametersRP returns the status of the command.
type LESetAdvertisingParametersRP struct {
	Status uint8
}

func (c *LESetAdvertisingParametersRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEReadAdvertisingChannelTxPower implements LE Read Advertising Channel
// Tx Power (0x08|0x0007) [Vol 2, Part E, 7.8.6].
type LEReadAdvertisingChannelTxPower struct{}

func (c *LEReadAdvertisingChannelTxPower) OpCode() int           { return opcode(0x08, 0x0007) }
func (c *LEReadAdvertisingChannelTxPower) Len() int              { return 0 }
func (c *LEReadAdvertisingChannelTxPower) Marshal(b []byte) error { return marshal(c, b) }

// LEReadAdvertisingChannelTxPowerRP returns the advertising transmit power.
type LEReadAdvertisingChannelTxPowerRP struct {
	Status             uint8
	TransmitPowerLevel int8
}

func (c *LEReadAdvertisingChannelTxPowerRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetAdvertisingData implements LE Set Advertising Data (0x08|0x0008)
// [Vol 2, Part E, 7.8.7].
type LESetAdvertisingData struct {
	AdvertisingDataLength uint8
	AdvertisingData       [31]byte
}

func (c *LESetAdvertisingData) OpCode() int           { return opcode(0x08, 0x0008) }
func (c *LESetAdvertisingData) Len() int              { return 32 }
func (c *LESetAdvertisingData) Marshal(b []byte) error { return marshal(c, b) }

// LESetAdvertisingDataRP returns the status of the command.
type LESetAdvertisingDataRP struct {
	Status uint8
}

func (c *LESetAdvertisingDataRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetScanResponseData implements LE Set Scan Response Data (0x08|0x0009)
// [Vol 2, Part E, 7.8.8].
type LESetScanResponseData struct {
	ScanResponseDataLength uint8
	ScanResponseData       [31]byte
}

func (c *LESetScanResponseData) OpCode() int           { return opcode(0x08, 0x0009) }
func (c *LESetScanResponseData) Len() int              { return 32 }
func (c *LESetScanResponseData) Marshal(b []byte) error { return marshal(c, b) }

// LESetScanResponseDataRP returns the status of the command.
type LESetScanResponseDataRP struct {
	Status uint8
}

func (c *LESetScanResponseDataRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetAdvertiseEnable implements LE Set Advertising Enable (0x08|0x000A)
// [Vol 2, Part E, 7.8.9].
type LESetAdvertiseEnable struct {
	AdvertisingEnable uint8
}

func (c *LESetAdvertiseEnable) OpCode() int           { return opcode(0x08, 0x000a) }
func (c *LESetAdvertiseEnable) Len() int              { return 1 }
func (c *LESetAdvertiseEnable) Marshal(b []byte) error { return marshal(c, b) }

// LESetAdvertiseEnableRP returns the status of the command.
type LESetAdvertiseEnableRP struct {
	Status uint8
}

func (c *LESetAdvertiseEnableRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetScanParameters implements LE Set Scan Parameters (0x08|0x000B)
// [Vol 2, Part E, 7.8.10].
type LESetScanParameters struct {
	LEScanType           uint8
	LEScanInterval       uint16
	LEScanWindow         uint16
	OwnAddressType       uint8
	ScanningFilterPolicy uint8
}

func (c *LESetScanParameters) OpCode() int           { return opcode(0x08, 0x000b) }
func (c *LESetScanParameters) Len() int              { return 7 }
func (c *LESetScanParameters) Marshal(b []byte) error { return marshal(c, b) }

// LESetScanParametersRP returns the status of the command.
type LESetScanParametersRP struct {
	Status uint8
}

func (c *LESetScanParametersRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetScanEnable implements LE Set Scan Enable (0x08|0x000C)
// [Vol 2, Part E, 7.8.11].
type LESetScanEnable struct {
	LEScanEnable     uint8
	FilterDuplicates uint8
}

func (c *LESetScanEnable) OpCode() int           { return opcode(0x08, 0x000c) }
func (c *LESetScanEnable) Len() int              { return 2 }
func (c *LESetScanEnable) Marshal(b []byte) error { return marshal(c, b) }

// LESetScanEnableRP returns the status of the command.
type LESetScanEnableRP struct {
	Status uint8
}

func (c *LESetScanEnableRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LECreateConnection implements LE Create Connection (0x08|0x000D)
// [Vol 2, Part E, 7.8.12]. Completion arrives as an LE Connection
// Complete event.
type LECreateConnection struct {
	LEScanInterval        uint16
	LEScanWindow          uint16
	InitiatorFilterPolicy uint8
	PeerAddressType       uint8
	PeerAddress           [6]byte
	OwnAddressType        uint8
	ConnIntervalMin       uint16
	ConnIntervalMax       uint16
	ConnLatency           uint16
	SupervisionTimeout    uint16
	MinimumCELength       uint16
	MaximumCELength       uint16
}

func (c *LECreateConnection) OpCode() int           { return opcode(0x08, 0x000d) }
func (c *LECreateConnection) Len() int              { return 25 }
func (c *LECreateConnection) Marshal(b []byte) error { return marshal(c, b) }

// LECreateConnectionCancel implements LE Create Connection Cancel
// (0x08|0x000E) [Vol 2, Part E, 7.8.13].
type LECreateConnectionCancel struct{}

func (c *LECreateConnectionCancel) OpCode() int           { return opcode(0x08, 0x000e) }
func (c *LECreateConnectionCancel) Len() int              { return 0 }
func (c *LECreateConnectionCancel) Marshal(b []byte) error { return marshal(c, b) }

// LECreateConnectionCancelRP returns the status of the command.
type LECreateConnectionCancelRP struct {
	Status uint8
}

func (c *LECreateConnectionCancelRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEReadWhiteListSize implements LE Read White List Size (0x08|0x000F)
// [Vol 2, Part E, 7.8.14].
type LEReadWhiteListSize struct{}

func (c *LEReadWhiteListSize) OpCode() int           { return opcode(0x08, 0x000f) }
func (c *LEReadWhiteListSize) Len() int              { return 0 }
func (c *LEReadWhiteListSize) Marshal(b []byte) error { return marshal(c, b) }

// LEReadWhiteListSizeRP returns the filter accept list capacity.
type LEReadWhiteListSizeRP struct {
	Status        uint8
	WhiteListSize uint8
}

func (c *LEReadWhiteListSizeRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEClearWhiteList implements LE Clear White List (0x08|0x0010)
// [Vol 2, Part E, 7.8.15].
type LEClearWhiteList struct{}

func (c *LEClearWhiteList) OpCode() int           { return opcode(0x08, 0x0010) }
func (c *LEClearWhiteList) Len() int              { return 0 }
func (c *LEClearWhiteList) Marshal(b []byte) error { return marshal(c, b) }

// LEClearWhiteListRP returns the status of the command.
type LEClearWhiteListRP struct {
	Status uint8
}

func (c *LEClearWhiteListRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEAddDeviceToWhiteList implements LE Add Device To White List
// (0x08|0x0011) [Vol 2, Part E, 7.8.16].
type LEAddDeviceToWhiteList struct {
	AddressType uint8
	Address     [6]byte
}

func (c *LEAddDeviceToWhiteList) OpCode() int           { return opcode(0x08, 0x0011) }
func (c *LEAddDeviceToWhiteList) Len() int              { return 7 }
func (c *LEAddDeviceToWhiteList) Marshal(b []byte) error { return marshal(c, b) }

// LEAddDeviceToWhiteListRP returns the status of the command.
type LEAddDeviceToWhiteListRP struct {
	Status uint8
}

func (c *LEAddDeviceToWhiteListRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LERemoveDeviceFromWhiteList implements LE Remove Device From White List
// (0x08|0x0012) [Vol 2, Part E, 7.8.17].
type LERemoveDeviceFromWhiteList struct {
	AddressType uint8
	Address     [6]byte
}

func (c *LERemoveDeviceFromWhiteList) OpCode() int           { return opcode(0x08, 0x0012) }
func (c *LERemoveDeviceFromWhiteList) Len() int              { return 7 }
func (c *LERemoveDeviceFromWhiteList) Marshal(b []byte) error { return marshal(c, b) }

// LERemoveDeviceFromWhiteListRP returns the status of the command.
type LERemoveDeviceFromWhiteListRP struct {
	Status uint8
}

func (c *LERemoveDeviceFromWhiteListRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEConnUpdate implements LE Connection Update (0x08|0x0013)
// [Vol 2, Part E, 7.8.18]. Completion arrives as an LE Connection Update
// Complete event.
type LEConnUpdate struct {
	ConnectionHandle   uint16
	ConnIntervalMin    uint16
	ConnIntervalMax    uint16
	ConnLatency        uint16
	SupervisionTimeout uint16
	MinimumCELength    uint16
	MaximumCELength    uint16
}

func (c *LEConnUpdate) OpCode() int           { return opcode(0x08, 0x0013) }
func (c *LEConnUpdate) Len() int              { return 14 }
func (c *LEConnUpdate) Marshal(b []byte) error { return marshal(c, b) }

// LESetPHY implements LE Set PHY (0x08|0x0032) [Vol 2, Part E, 7.8.49].
// Completion arrives as an LE PHY Update Complete event.
type LESetPHY struct {
	ConnectionHandle uint16
	AllPHYs          uint8
	TXPHYs           uint8
	RXPHYs           uint8
	PHYOptions       uint16
}

func (c *LESetPHY) OpCode() int           { return opcode(0x08, 0x0032) }
func (c *LESetPHY) Len() int              { return 7 }
func (c *LESetPHY) Marshal(b []byte) error { return marshal(c, b) }

// LEStartEncryption implements LE Start Encryption (0x08|0x0019)
// [Vol 2, Part E, 7.8.24]. Completion arrives as an Encryption Change
// event.
type LEStartEncryption struct {
	ConnectionHandle     uint16
	RandomNumber         uint64
	EncryptedDiversifier uint16
	LongTermKey          [16]byte
}

func (c *LEStartEncryption) OpCode() int           { return opcode(0x08, 0x0019) }
func (c *LEStartEncryption) Len() int              { return 28 }
func (c *LEStartEncryption) Marshal(b []byte) error { return marshal(c, b) }

// LELongTermKeyRequestReply implements LE Long Term Key Request Reply
// (0x08|0x001A) [Vol 2, Part E, 7.8.25].
type LELongTermKeyRequestReply struct {
	ConnectionHandle uint16
	LongTermKey      [16]byte
}

func (c *LELongTermKeyRequestReply) OpCode() int           { return opcode(0x08, 0x001a) }
func (c *LELongTermKeyRequestReply) Len() int              { return 18 }
func (c *LELongTermKeyRequestReply) Marshal(b []byte) error { return marshal(c, b) }

// LELongTermKeyRequestReplyRP returns the status of the command.
type LELongTermKeyRequestReplyRP struct {
	Status           uint8
	ConnectionHandle uint16
}

func (c *LELongTermKeyRequestReplyRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LELongTermKeyRequestNegativeReply implements LE Long Term Key Request
// Negative Reply (0x08|0x001B) [Vol 2, Part E, 7.8.26].
type LELongTermKeyRequestNegativeReply struct {
	ConnectionHandle uint16
}

func (c *LELongTermKeyRequestNegativeReply) OpCode() int           { return opcode(0x08, 0x001b) }
func (c *LELongTermKeyRequestNegativeReply) Len() int              { return 2 }
func (c *LELongTermKeyRequestNegativeReply) Marshal(b []byte) error { return marshal(c, b) }

// LELongTermKeyRequestNegativeReplyRP returns the status of the command.
type LELongTermKeyRequestNegativeReplyRP struct {
	Status           uint8
	ConnectionHandle uint16
}

func (c *LELongTermKeyRequestNegativeReplyRP) Unmarshal(b []byte) error { return unmarshal(c, b) }
