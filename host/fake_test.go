package host

import (
	"sync"

	"github.com/airlinklabs/bthost"
	"github.com/airlinklabs/bthost/hci"
)

// fakeController implements hci.Controller in process. Tests drive the
// event side through advertise/connectNow and the auto-connect switch.
type fakeController struct {
	mu          sync.Mutex
	addr        bthost.EUI48
	inited      bool
	closed      bool
	scanning    bool
	advertising bool
	scanParams  bthost.ScanParams
	advParams   bthost.AdvParams
	advData     []byte
	scanRspData []byte
	whitelist   map[bthost.PeerID]bool

	// autoConnect answers CreateConnection with an immediate successful
	// ConnComplete over a fresh conn pair.
	autoConnect bool
	nextHandle  uint16
	periph      *fakeConn

	scanEnables []bool

	events chan hci.Event
}

func newFakeController() *fakeController {
	return &fakeController{
		addr:       bthost.MustParseEUI48("00:1a:7d:da:71:13"),
		whitelist:  make(map[bthost.PeerID]bool),
		nextHandle: 0x0040,
		events:     make(chan hci.Event, 32),
	}
}

func (f *fakeController) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inited = true
	return nil
}

func (f *fakeController) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeController) Addr() bthost.EUI48 { return f.addr }

func (f *fakeController) SetScanParams(p bthost.ScanParams) bthost.HCIStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanParams = p
	return bthost.StatusSuccess
}

func (f *fakeController) ScanEnable(enable, filterDuplicates bool) bthost.HCIStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanning = enable
	f.scanEnables = append(f.scanEnables, enable)
	return bthost.StatusSuccess
}

func (f *fakeController) SetAdvParams(p bthost.AdvParams) bthost.HCIStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advParams = p
	return bthost.StatusSuccess
}

func (f *fakeController) SetAdvData(ad, scanRsp []byte) bthost.HCIStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advData = ad
	f.scanRspData = scanRsp
	return bthost.StatusSuccess
}

func (f *fakeController) AdvEnable(enable bool) bthost.HCIStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advertising = enable
	return bthost.StatusSuccess
}

func (f *fakeController) CreateConnection(peer bthost.PeerID, p bthost.ConnParams) bthost.HCIStatus {
	f.mu.Lock()
	auto := f.autoConnect
	f.mu.Unlock()
	if auto {
		f.connectNow(peer)
	}
	return bthost.StatusSuccess
}

func (f *fakeController) CancelConnection() bthost.HCIStatus {
	f.emit(hci.ConnComplete{Status: bthost.StatusUnknownConnID})
	return bthost.StatusSuccess
}

func (f *fakeController) Disconnect(handle uint16, reason bthost.HCIStatus) bthost.HCIStatus {
	f.emit(hci.DisconnComplete{Handle: handle, Reason: reason})
	return bthost.StatusSuccess
}

func (f *fakeController) WhitelistAdd(peer bthost.PeerID) bthost.HCIStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.whitelist[peer] = true
	return bthost.StatusSuccess
}

func (f *fakeController) WhitelistRemove(peer bthost.PeerID) bthost.HCIStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.whitelist, peer)
	return bthost.StatusSuccess
}

func (f *fakeController) WhitelistClear() bthost.HCIStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.whitelist = make(map[bthost.PeerID]bool)
	return bthost.StatusSuccess
}

func (f *fakeController) Events() <-chan hci.Event { return f.events }

func (f *fakeController) emit(ev hci.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- ev
}

// advertise injects one advertising report.
func (f *fakeController) advertise(peer bthost.PeerID, evtType uint8, rssi int8, data []byte) {
	f.emit(hci.AdvReport{Peer: peer, EventType: evtType, RSSI: rssi, Data: data})
}

// connectNow completes a connection to peer over a fresh conn pair and
// returns the peripheral end for the test to drive.
func (f *fakeController) connectNow(peer bthost.PeerID) *fakeConn {
	f.mu.Lock()
	handle := f.nextHandle
	f.nextHandle++
	f.mu.Unlock()

	central, periph := newFakeConnPair(handle, f.addr, peer)
	central.onClose = func() {
		f.emit(hci.DisconnComplete{Handle: handle, Reason: bthost.StatusLocalTerminated})
	}

	f.mu.Lock()
	f.periph = periph
	f.mu.Unlock()

	f.emit(hci.ConnComplete{
		Status:   bthost.StatusSuccess,
		Handle:   handle,
		Role:     bthost.RoleMaster,
		Peer:     peer,
		Interval: 0x0028,
		Conn:     central,
	})
	return periph
}

func (f *fakeController) peripheral() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.periph
}

// fakeConn is an in-memory Conn pair endpoint moving one ATT PDU per
// Read/Write.
type fakeConn struct {
	handle uint16
	role   bthost.BTRole
	local  bthost.EUI48
	remote bthost.PeerID

	rx chan []byte
	tx chan []byte

	mu      sync.Mutex
	rxMTU   int
	txMTU   int
	smp     func(pdu []byte) error
	peer    *fakeConn
	done    chan struct{}
	closed  bool
	onClose func()
}

func newFakeConnPair(handle uint16, localAddr bthost.EUI48, peer bthost.PeerID) (central, peripheral *fakeConn) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	done := make(chan struct{})
	c := &fakeConn{
		handle: handle,
		role:   bthost.RoleMaster,
		local:  localAddr,
		remote: peer,
		rx:     ba, tx: ab,
		rxMTU: 23, txMTU: 23,
		done: done,
	}
	p := &fakeConn{
		handle: handle,
		role:   bthost.RoleSlave,
		local:  peer.Addr,
		remote: bthost.PeerID{Addr: localAddr, Type: bthost.AddrPublic},
		rx:     ab, tx: ba,
		rxMTU: 23, txMTU: 23,
		done: done,
	}
	c.peer, p.peer = p, c
	return c, p
}

func (c *fakeConn) Read(b []byte) (int, error) {
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

func (c *fakeConn) Write(b []byte) (int, error) {
	pdu := make([]byte, len(b))
	copy(pdu, b)
	select {
	case c.tx <- pdu:
		return len(b), nil
	case <-c.done:
		return 0, bthost.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.peer.mu.Lock()
	c.peer.closed = true
	c.peer.mu.Unlock()
	onClose := c.onClose
	c.mu.Unlock()

	close(c.done)
	if onClose != nil {
		onClose()
	}
	return nil
}

func (c *fakeConn) Handle() uint16                { return c.handle }
func (c *fakeConn) Role() bthost.BTRole           { return c.role }
func (c *fakeConn) LocalAddr() bthost.EUI48       { return c.local }
func (c *fakeConn) RemoteAddr() bthost.PeerID     { return c.remote }
func (c *fakeConn) ReadRSSI() (int8, error)       { return -51, nil }
func (c *fakeConn) Disconnected() <-chan struct{} { return c.done }

func (c *fakeConn) RxMTU() int { c.mu.Lock(); defer c.mu.Unlock(); return c.rxMTU }
func (c *fakeConn) TxMTU() int { c.mu.Lock(); defer c.mu.Unlock(); return c.txMTU }

func (c *fakeConn) SetRxMTU(mtu int) { c.mu.Lock(); c.rxMTU = mtu; c.mu.Unlock() }
func (c *fakeConn) SetTxMTU(mtu int) { c.mu.Lock(); c.txMTU = mtu; c.mu.Unlock() }

func (c *fakeConn) WriteSMP(pdu []byte) (int, error) {
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

func (c *fakeConn) SetSMPHandler(h func(pdu []byte) error) {
	c.mu.Lock()
	c.smp = h
	c.mu.Unlock()
}

func (c *fakeConn) StartEncryption(ltk bthost.LongTermKey, change chan bthost.EncryptionChangedInfo) error {
	change <- bthost.EncryptionChangedInfo{Status: bthost.StatusSuccess, Enabled: true}
	return nil
}
