package hci

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost"
)

// DefaultMTU is the ATT_MTU before the exchange [Vol 3, Part F, 3.2.8].
const DefaultMTU = 23

// aclPacket is one HCI ACL data packet [Vol 2, Part E, 5.4.2].
type aclPacket []byte

func (a aclPacket) handle() uint16 { return uint16(a[0]) | uint16(a[1]&0x0f)<<8 }
func (a aclPacket) pbf() int       { return int(a[1]) >> 4 & 0x3 }
func (a aclPacket) dlen() int      { return int(a[2]) | int(a[3])<<8 }
func (a aclPacket) data() []byte   { return a[4:] }

// l2capPDU is a basic-mode L2CAP PDU [Vol 3, Part A, 3.1].
type l2capPDU []byte

func (p l2capPDU) dlen() int       { return int(binary.LittleEndian.Uint16(p[0:2])) }
func (p l2capPDU) cid() uint16     { return binary.LittleEndian.Uint16(p[2:4]) }
func (p l2capPDU) payload() []byte { return p[4:] }

// Conn is one LE-U logical link. It implements bthost.Conn, carrying ATT
// on its fixed channel through Read/Write and SMP through WriteSMP and
// the installed handler.
type Conn struct {
	h      *HCI
	handle uint16
	role   bthost.BTRole
	peer   bthost.PeerID

	mu         sync.Mutex
	rxMTU      int
	txMTU      int
	smpHandler func(pdu []byte) error
	encChange  chan bthost.EncryptionChangedInfo
	encHandler func(bthost.EncryptionChangedInfo)
	ltk        *bthost.LongTermKey

	// wmu keeps the fragments of one PDU contiguous on the transport
	// [Vol 3, Part A, 7.2.1].
	wmu sync.Mutex

	// pending counts controller buffers held by this link; guarded by
	// h.muConns.
	pending int

	chInPkt chan aclPacket
	chInPDU chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(h *HCI, handle uint16, role bthost.BTRole, peer bthost.PeerID) *Conn {
	return &Conn{
		h:       h,
		handle:  handle,
		role:    role,
		peer:    peer,
		rxMTU:   DefaultMTU,
		txMTU:   DefaultMTU,
		chInPkt: make(chan aclPacket, 16),
		chInPDU: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (c *Conn) Handle() uint16          { return c.handle }
func (c *Conn) Role() bthost.BTRole     { return c.role }
func (c *Conn) LocalAddr() bthost.EUI48 { return c.h.Addr() }
func (c *Conn) RemoteAddr() bthost.PeerID {
	return c.peer
}

func (c *Conn) RxMTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rxMTU
}

func (c *Conn) SetRxMTU(mtu int) {
	c.mu.Lock()
	c.rxMTU = mtu
	c.mu.Unlock()
}

func (c *Conn) TxMTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txMTU
}

func (c *Conn) SetTxMTU(mtu int) {
	c.mu.Lock()
	c.txMTU = mtu
	c.mu.Unlock()
}

// Disconnected implements bthost.Conn.
func (c *Conn) Disconnected() <-chan struct{} { return c.done }

// ReadRSSI implements bthost.Conn.
func (c *Conn) ReadRSSI() (int8, error) {
	rp := ReadRSSIRP{}
	if err := c.h.Send(&ReadRSSI{Handle: c.handle}, &rp); err != nil {
		return 0, err
	}
	return rp.RSSI, nil
}

// Read fills p with the payload of the next inbound ATT PDU.
func (c *Conn) Read(p []byte) (int, error) {
	pdu, ok := <-c.chInPDU
	if !ok {
		return 0, io.ErrClosedPipe
	}
	if len(p) < len(pdu) {
		return 0, io.ErrShortBuffer
	}
	return copy(p, pdu), nil
}

// Write sends one ATT PDU.
func (c *Conn) Write(p []byte) (int, error) {
	return c.writePDU(cidLEAtt, p)
}

// WriteSMP implements bthost.Conn.
func (c *Conn) WriteSMP(pdu []byte) (int, error) {
	return c.writePDU(cidSMP, pdu)
}

// SetSMPHandler implements bthost.Conn.
func (c *Conn) SetSMPHandler(h func(pdu []byte) error) {
	c.mu.Lock()
	c.smpHandler = h
	c.mu.Unlock()
}

// SetEncryptionChangeHandler installs a hook for encryption change events
// not claimed by a StartEncryption waiter, such as a central re-encrypting
// the link to a peripheral.
func (c *Conn) SetEncryptionChangeHandler(h func(bthost.EncryptionChangedInfo)) {
	c.mu.Lock()
	c.encHandler = h
	c.mu.Unlock()
}

// StartEncryption implements bthost.Conn. On the central it issues
// LE Start Encryption; on the peripheral it arms the key for the
// controller's long term key request and waits for the central to start.
func (c *Conn) StartEncryption(ltk bthost.LongTermKey, change chan bthost.EncryptionChangedInfo) error {
	c.mu.Lock()
	c.ltk = &ltk
	c.encChange = change
	c.mu.Unlock()

	if c.role != bthost.RoleMaster {
		return nil
	}

	cmd := &LEStartEncryption{
		ConnectionHandle:     c.handle,
		RandomNumber:         ltk.Rand,
		EncryptedDiversifier: ltk.EDiv,
	}
	copy(cmd.LongTermKey[:], ltk.LTK[:])
	return c.h.Send(cmd, nil)
}

// Close asks the controller to drop the link; teardown happens on the
// Disconnection Complete event.
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	st := c.h.Disconnect(c.handle, bthost.StatusRemoteTerminated)
	if !st.IsOK() {
		return errors.Errorf("disconnect: %s", st)
	}
	return nil
}

func (c *Conn) closeInternal() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Conn) handleEncryptionChanged(status bthost.HCIStatus, enabled bool) {
	info := bthost.EncryptionChangedInfo{Status: status, Enabled: enabled}
	c.mu.Lock()
	ch := c.encChange
	c.encChange = nil
	h := c.encHandler
	c.mu.Unlock()

	if ch != nil {
		select {
		case ch <- info:
			return
		default:
		}
	}
	if h != nil {
		go h(info)
	}
}

// requestLTK answers the controller's long term key request on the
// peripheral. Legacy keys must match the request's EDiv and Rand; keys
// derived over secure connections carry zeros.
func (c *Conn) requestLTK(ediv uint16, rand uint64) ([16]byte, bool) {
	c.mu.Lock()
	ltk := c.ltk
	c.mu.Unlock()
	if ltk == nil {
		return [16]byte{}, false
	}
	if (ltk.EDiv != 0 || ltk.Rand != 0) && (ltk.EDiv != ediv || ltk.Rand != rand) {
		return [16]byte{}, false
	}
	return ltk.LTK, true
}

// writePDU fragments one L2CAP PDU to the controller buffer size
// [Vol 3, Part A, 7.2.1].
func (c *Conn) writePDU(cid uint16, payload []byte) (int, error) {
	pdu := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint16(pdu[0:2], uint16(len(payload)))
	binary.LittleEndian.PutUint16(pdu[2:4], cid)
	copy(pdu[4:], payload)

	c.wmu.Lock()
	defer c.wmu.Unlock()

	sent := 0
	pbf := uint8(pbfHostToControllerStart)
	for len(pdu) > 0 {
		n := len(pdu)
		if n > c.h.bufSize {
			n = c.h.bufSize
		}

		if err := c.h.acquireTx(c); err != nil {
			return sent, err
		}

		frag := make([]byte, 5+n)
		frag[0] = pktTypeACLData
		binary.LittleEndian.PutUint16(frag[1:3], c.handle|uint16(pbf)<<12)
		binary.LittleEndian.PutUint16(frag[3:5], uint16(n))
		copy(frag[5:], pdu[:n])

		if _, err := c.h.skt.Write(frag); err != nil {
			return sent, errors.Wrap(err, "write acl")
		}
		sent += n
		pdu = pdu[n:]
		pbf = pbfContinuing
	}
	if sent < 4 {
		return 0, errors.New("short pdu")
	}
	return sent - 4, nil
}

// run recombines inbound fragments into PDUs and dispatches them by
// channel id [Vol 3, Part A, 7.2.2].
func (c *Conn) run() {
	defer close(c.chInPDU)
	for {
		var pkt aclPacket
		var ok bool
		select {
		case <-c.done:
			return
		case pkt, ok = <-c.chInPkt:
			if !ok {
				return
			}
		}
		if err := c.recombine(pkt); err != nil {
			c.h.log.Errorf("recombine: %v", err)
			return
		}
	}
}

func (c *Conn) recombine(pkt aclPacket) error {
	p := l2capPDU(pkt.data())
	if len(p) < 4 {
		return errors.New("pdu header truncated")
	}
	if p.cid() == cidLEAtt && p.dlen() > c.RxMTU() {
		return errors.Errorf("pdu size %d exceeds mtu %d", p.dlen(), c.RxMTU())
	}

	if len(p.payload()) < p.dlen() {
		full := make(l2capPDU, 0, 4+p.dlen())
		p = append(full, p...)
	}
	for len(p) < 4+p.dlen() {
		select {
		case <-c.done:
			return io.EOF
		case more, ok := <-c.chInPkt:
			if !ok || more.pbf()&pbfContinuing == 0 {
				return io.ErrUnexpectedEOF
			}
			p = append(p, more.data()...)
		}
	}

	switch p.cid() {
	case cidLEAtt:
		select {
		case c.chInPDU <- p.payload():
		case <-c.done:
			return io.EOF
		}
	case cidSMP:
		c.mu.Lock()
		h := c.smpHandler
		c.mu.Unlock()
		if h != nil {
			if err := h(p.payload()); err != nil {
				c.h.log.Warnf("smp: %v", err)
			}
		}
	case cidLESignal:
		c.handleSignal(p.payload())
	default:
		c.h.log.Warnf("pdu on unknown cid 0x%04x", p.cid())
	}
	return nil
}

// L2CAP signaling codes [Vol 3, Part A, 4].
const (
	sigCommandReject          = 0x01
	sigConnParamUpdateRequest = 0x12
	sigConnParamUpdateRsp     = 0x13
)

// handleSignal accepts connection parameter update requests from a
// peripheral and rejects everything else as not understood.
func (c *Conn) handleSignal(s []byte) {
	if len(s) < 4 {
		return
	}
	code, id := s[0], s[1]
	switch code {
	case sigConnParamUpdateRequest:
		if len(s) < 12 || c.role != bthost.RoleMaster {
			return
		}
		c.h.Send(&LEConnUpdate{
			ConnectionHandle:   c.handle,
			ConnIntervalMin:    binary.LittleEndian.Uint16(s[4:6]),
			ConnIntervalMax:    binary.LittleEndian.Uint16(s[6:8]),
			ConnLatency:        binary.LittleEndian.Uint16(s[8:10]),
			SupervisionTimeout: binary.LittleEndian.Uint16(s[10:12]),
		}, nil)
		c.sendSignal(sigConnParamUpdateRsp, id, []byte{0x00, 0x00})
	case sigConnParamUpdateRsp:
		// response to our own request, nothing to do
	default:
		// 0x0000: command not understood
		c.sendSignal(sigCommandReject, id, []byte{0x00, 0x00})
	}
}

func (c *Conn) sendSignal(code, id uint8, data []byte) {
	s := make([]byte, 4+len(data))
	s[0] = code
	s[1] = id
	binary.LittleEndian.PutUint16(s[2:4], uint16(len(data)))
	copy(s[4:], data)
	if _, err := c.writePDU(cidLESignal, s); err != nil {
		c.h.log.Warnf("signal write: %v", err)
	}
}
