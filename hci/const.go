package hci

import "time"

// HCI packet indicators [Vol 4, Part A, 2].
const (
	pktTypeCommand uint8 = 0x01
	pktTypeACLData uint8 = 0x02
	pktTypeSCOData uint8 = 0x03
	pktTypeEvent   uint8 = 0x04
	pktTypeVendor  uint8 = 0xff
)

// Packet boundary flags of the ACL data packet [Vol 2, Part E, 5.4.2].
const (
	pbfHostToControllerStart = 0x00
	pbfContinuing            = 0x01
)

// Host to controller command flow control [Vol 2, Part E, 4.4].
const (
	chCmdBufChanSize    = 16
	chCmdBufElementSize = 64
	chCmdBufTimeout     = 5 * time.Second
	cmdRspTimeout       = 3 * time.Second
)

// Advertising report event types [Vol 4, Part E, 7.7.65.2].
const (
	evtTypAdvInd        = 0x00
	evtTypAdvDirectInd  = 0x01
	evtTypAdvScanInd    = 0x02
	evtTypAdvNonconnInd = 0x03
	evtTypScanRsp       = 0x04
)

// Connection roles as reported in LE Connection Complete.
const (
	roleMaster = 0x00
	roleSlave  = 0x01
)

// L2CAP fixed channels on LE-U [Vol 3, Part A, 2.1].
const (
	cidLEAtt    uint16 = 0x0004
	cidLESignal uint16 = 0x0005
	cidSMP      uint16 = 0x0006
)
