package gatt

import (
	"sync"

	"github.com/airlinklabs/bthost"
)

// pipeConn is an in-memory Conn carrying one ATT PDU per Read/Write.
// newConnPair wires two of them back to back.
type pipeConn struct {
	handle uint16
	role   bthost.BTRole
	local  bthost.EUI48
	remote bthost.PeerID

	rx chan []byte
	tx chan []byte

	mu     sync.Mutex
	rxMTU  int
	txMTU  int
	smp    func(pdu []byte) error
	peer   *pipeConn
	done   chan struct{}
	closed bool
}

func newConnPair(handle uint16) (central, peripheral *pipeConn) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	done := make(chan struct{})
	c := &pipeConn{
		handle: handle,
		role:   bthost.RoleMaster,
		local:  bthost.MustParseEUI48("00:11:22:33:44:55"),
		remote: bthost.PeerID{Addr: bthost.MustParseEUI48("AA:BB:CC:DD:EE:FF"), Type: bthost.AddrPublic},
		rx:     ba, tx: ab,
		rxMTU: 23, txMTU: 23,
		done: done,
	}
	p := &pipeConn{
		handle: handle,
		role:   bthost.RoleSlave,
		local:  bthost.MustParseEUI48("AA:BB:CC:DD:EE:FF"),
		remote: bthost.PeerID{Addr: bthost.MustParseEUI48("00:11:22:33:44:55"), Type: bthost.AddrPublic},
		rx:     ab, tx: ba,
		rxMTU: 23, txMTU: 23,
		done: done,
	}
	c.peer, p.peer = p, c
	return c, p
}

func (c *pipeConn) Read(b []byte) (int, error) {
	select {
	case pdu, ok := <-c.rx:
		if !ok {
			return 0, bthost.ErrClosed
		}
		return copy(b, pdu), nil
	case <-c.done:
		return 0, bthost.ErrClosed
	}
}

func (c *pipeConn) Write(b []byte) (int, error) {
	pdu := make([]byte, len(b))
	copy(pdu, b)
	select {
	case c.tx <- pdu:
		return len(b), nil
	case <-c.done:
		return 0, bthost.ErrClosed
	}
}

func (c *pipeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.peer.mu.Lock()
		c.peer.closed = true
		c.peer.mu.Unlock()
		close(c.done)
	}
	return nil
}

func (c *pipeConn) Handle() uint16               { return c.handle }
func (c *pipeConn) Role() bthost.BTRole          { return c.role }
func (c *pipeConn) LocalAddr() bthost.EUI48      { return c.local }
func (c *pipeConn) RemoteAddr() bthost.PeerID    { return c.remote }
func (c *pipeConn) ReadRSSI() (int8, error)      { return -42, nil }
func (c *pipeConn) Disconnected() <-chan struct{} { return c.done }

func (c *pipeConn) RxMTU() int { c.mu.Lock(); defer c.mu.Unlock(); return c.rxMTU }
func (c *pipeConn) TxMTU() int { c.mu.Lock(); defer c.mu.Unlock(); return c.txMTU }
func (c *pipeConn) SetRxMTU(mtu int) { c.mu.Lock(); c.rxMTU = mtu; c.mu.Unlock() }
func (c *pipeConn) SetTxMTU(mtu int) { c.mu.Lock(); c.txMTU = mtu; c.mu.Unlock() }

func (c *pipeConn) WriteSMP(pdu []byte) (int, error) {
	c.peer.mu.Lock()
	h := c.peer.smp
	c.peer.mu.Unlock()
	if h == nil {
		return 0, bthost.ErrClosed
	}
	if err := h(pdu); err != nil {
		return 0, err
	}
	return len(pdu), nil
}

func (c *pipeConn) SetSMPHandler(h func(pdu []byte) error) {
	c.mu.Lock()
	c.smp = h
	c.mu.Unlock()
}

func (c *pipeConn) StartEncryption(ltk bthost.LongTermKey, change chan bthost.EncryptionChangedInfo) error {
	change <- bthost.EncryptionChangedInfo{Status: bthost.StatusSuccess, Enabled: true}
	return nil
}
