package hci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlinklabs/bthost"
)

func TestCommandMarshal(t *testing.T) {
	c := &LECreateConnection{
		LEScanInterval:     0x0060,
		LEScanWindow:       0x0030,
		PeerAddressType:    0x01,
		ConnIntervalMin:    0x0018,
		ConnIntervalMax:    0x0028,
		SupervisionTimeout: 0x01a4,
	}
	copy(c.PeerAddress[:], bthost.MustParseEUI48("c0:26:df:01:f2:72").WireBytes())

	assert.Equal(t, 0x200d, c.OpCode())
	assert.Equal(t, 25, c.Len())

	b := make([]byte, c.Len())
	require.NoError(t, c.Marshal(b))
	assert.Equal(t, []byte{
		0x60, 0x00, 0x30, 0x00, // scan interval, window
		0x00, 0x01, // filter policy, peer addr type
		0x72, 0xf2, 0x01, 0xdf, 0x26, 0xc0, // peer address, little-endian
		0x00,                   // own addr type
		0x18, 0x00, 0x28, 0x00, // conn interval
		0x00, 0x00, 0xa4, 0x01, // latency, supervision timeout
		0x00, 0x00, 0x00, 0x00, // ce length
	}, b)
}

func TestReturnParamUnmarshal(t *testing.T) {
	rp := ReadBDADDRRP{}
	require.NoError(t, rp.Unmarshal([]byte{0x00, 0x13, 0x71, 0xda, 0x7d, 0x1a, 0x00}))
	assert.Equal(t, uint8(0), rp.Status)
	assert.Equal(t, "00:1a:7d:da:71:13", bthost.EUI48FromWire(rp.BDADDR[:]).String())

	bs := LEReadBufferSizeRP{}
	require.NoError(t, bs.Unmarshal([]byte{0x00, 0xfb, 0x00, 0x08}))
	assert.Equal(t, uint16(251), bs.HCLEDataPacketLength)
	assert.Equal(t, uint8(8), bs.HCTotalNumLEDataPackets)
}

func TestConnectionCompleteEvent(t *testing.T) {
	e := leConnectionComplete([]byte{
		0x01,       // subevent
		0x00,       // status
		0x40, 0x00, // handle
		0x00,       // role master
		0x01,       // peer addr type random
		0x72, 0xf2, 0x01, 0xdf, 0x26, 0xc0, // peer address
		0x28, 0x00, // interval
		0x00, 0x00, // latency
		0xa4, 0x01, // supervision timeout
		0x00, // clock accuracy
	})
	assert.Equal(t, uint8(0), e.status())
	assert.Equal(t, uint16(0x0040), e.connectionHandle())
	assert.Equal(t, uint8(roleMaster), e.role())
	assert.Equal(t, "c0:26:df:01:f2:72", bthost.EUI48FromWire(e.peerAddress()).String())
	assert.Equal(t, uint16(0x0028), e.connInterval())
}

func TestAdvertisingReportEvent(t *testing.T) {
	e := leAdvertisingReport([]byte{
		0x02, // subevent
		0x01, // one report
		0x00, // ADV_IND
		0x00, // public
		0x13, 0x71, 0xda, 0x7d, 0x1a, 0x00, // address
		0x03,             // data length
		0x02, 0x01, 0x06, // flags AD structure
		0xc8, // rssi -56
	})
	nr, err := e.numReports()
	require.NoError(t, err)
	require.Equal(t, 1, nr)

	et, err := e.eventType(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(evtTypAdvInd), et)

	addr, err := e.address(0)
	require.NoError(t, err)
	assert.Equal(t, "00:1a:7d:da:71:13", bthost.EUI48FromWire(addr).String())

	data, err := e.data(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x06}, data)

	rssi, err := e.rssi(0)
	require.NoError(t, err)
	assert.Equal(t, int8(-56), rssi)
}

func TestAdvertisingReportTruncated(t *testing.T) {
	e := leAdvertisingReport([]byte{0x02, 0x01, 0x00, 0x00})
	_, err := e.address(0)
	assert.Error(t, err)
}

func TestACLPacketAccessors(t *testing.T) {
	p := aclPacket([]byte{
		0x40, 0x20, // handle 0x0040, pbf start
		0x07, 0x00, // dlen
		0x03, 0x00, 0x04, 0x00, // l2cap: len 3, cid 4
		0x0a, 0x03, 0x00, // att read req
	})
	assert.Equal(t, uint16(0x0040), p.handle())
	assert.Equal(t, 0x02, p.pbf())
	assert.Equal(t, 7, p.dlen())

	pdu := l2capPDU(p.data())
	assert.Equal(t, 3, pdu.dlen())
	assert.Equal(t, cidLEAtt, pdu.cid())
	assert.Equal(t, []byte{0x0a, 0x03, 0x00}, pdu.payload())
}
